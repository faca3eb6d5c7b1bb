package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Sink persists samples and returns the location of the written sample.
type Sink interface {
	Write(ctx context.Context, s Sample) (string, error)
}

// LocalSink writes samples under Dir/<job_id>/.
type LocalSink struct {
	Dir            string
	LabelThreshold float64
}

func (l *LocalSink) Write(ctx context.Context, s Sample) (string, error) {
	files, err := s.Encode(l.LabelThreshold)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(l.Dir, s.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Data, 0o644); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, files[0].Name), nil
}

// Uploader is the object storage operation S3Sink needs; *storage.S3Client
// implements it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, meta map[string]string) error
}

// S3Sink writes samples to s3://Bucket/Prefix/<job_id>/.
type S3Sink struct {
	Client         Uploader
	Bucket         string
	Prefix         string
	LabelThreshold float64
}

func (s3s *S3Sink) Write(ctx context.Context, s Sample) (string, error) {
	files, err := s.Encode(s3s.LabelThreshold)
	if err != nil {
		return "", err
	}
	meta := map[string]string{"job-id": s.JobID, "sample-id": s.ID}
	prefix := path.Join(strings.Trim(s3s.Prefix, "/"), s.JobID)
	for _, f := range files {
		key := path.Join(prefix, f.Name)
		if err := s3s.Client.Upload(ctx, s3s.Bucket, key, f.ContentType, bytes.NewReader(f.Data), meta); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("s3://%s/%s", s3s.Bucket, path.Join(prefix, files[0].Name)), nil
}

// MultiSink writes to every sink in order and reports the first location.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, s Sample) (string, error) {
	if len(m) == 0 {
		return "", errors.New("output: no sinks configured")
	}
	var first string
	for i, sink := range m {
		loc, err := sink.Write(ctx, s)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}
