// Package pagesource turns page and mask references into rasters.
package pagesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/viewsynth/internal/storage"
)

// Loader resolves references of the form s3://bucket/key, http(s)://...,
// file://path or a plain filesystem path. It is safe for concurrent use.
type Loader struct {
	HTTP *http.Client

	s3Opts storage.Options
	once   sync.Once
	s3     *storage.S3Client
	s3Err  error
}

// New returns a Loader. s3 may be nil; an S3 client is then created from
// opts on the first s3:// reference.
func New(s3 *storage.S3Client, opts storage.Options) *Loader {
	return &Loader{HTTP: http.DefaultClient, s3: s3, s3Opts: opts}
}

// Fetch makes ref available as a local file. cleanup removes any temp file
// and is never nil.
func (l *Loader) Fetch(ctx context.Context, ref string) (path string, cleanup func(), err error) {
	noop := func() {}
	// Strip optional #page fragment if present
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	ext := filepath.Ext(ref)

	switch {
	case strings.HasPrefix(ref, "s3://"):
		cli, err := l.s3Client(ctx)
		if err != nil {
			return "", noop, err
		}
		path, err = cli.DownloadToTemp(ctx, ref, "viewsynth-*"+ext)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		path, err = l.downloadHTTPToTemp(ctx, ref, ext)
	case strings.HasPrefix(ref, "file://"):
		return checkLocal(strings.TrimPrefix(ref, "file://"))
	default:
		return checkLocal(ref)
	}
	if err != nil {
		return "", noop, err
	}
	return path, func() { os.Remove(path) }, nil
}

func checkLocal(path string) (string, func(), error) {
	if _, err := os.Stat(path); err != nil {
		return "", func() {}, err
	}
	return path, func() {}, nil
}

func (l *Loader) s3Client(ctx context.Context) (*storage.S3Client, error) {
	l.once.Do(func() {
		if l.s3 == nil {
			l.s3, l.s3Err = storage.NewS3Client(ctx, l.s3Opts)
		}
	})
	return l.s3, l.s3Err
}

func (l *Loader) downloadHTTPToTemp(ctx context.Context, url, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	f, err := os.CreateTemp("", "viewsynth-*"+ext)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	log.Debug().Str("url", url).Str("file", filepath.Base(f.Name())).Msg("downloaded page source to temp")
	return f.Name(), nil
}

// HTTPError is a non-200 answer from a page source URL.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}
