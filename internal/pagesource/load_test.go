package pagesource

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/storage"
)

func testPage() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8(10*y + x)})
		}
	}
	return g
}

func writeFile(t *testing.T, name string, enc func(io.Writer) error) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := enc(f); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return path
}

func TestLoadPageFormats(t *testing.T) {
	page := testPage()
	tests := []struct {
		name string
		enc  func(io.Writer) error
	}{
		{"page.png", func(w io.Writer) error { return png.Encode(w, page) }},
		{"page.bmp", func(w io.Writer) error { return bmp.Encode(w, page) }},
		{"page.tif", func(w io.Writer) error { return tiff.Encode(w, page, nil) }},
	}
	l := New(nil, storage.Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.name, tt.enc)
			for _, ref := range []string{path, "file://" + path} {
				r, err := l.LoadPage(context.Background(), ref, Options{})
				if err != nil {
					t.Fatalf("LoadPage(%q) error: %v", ref, err)
				}
				if h, w := r.Bounds(); h != 4 || w != 6 {
					t.Fatalf("bounds = %dx%d, want 4x6", h, w)
				}
				if got := r.At(3, 5, 0); got != 35 {
					t.Errorf("At(3,5) = %v, want 35", got)
				}
			}
		})
	}
}

func TestLoadOverHTTP(t *testing.T) {
	page := testPage()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page.png" {
			http.NotFound(w, r)
			return
		}
		_ = png.Encode(w, page)
	}))
	defer srv.Close()

	l := New(nil, storage.Options{})
	g, err := l.Load(context.Background(), srv.URL+"/page.png", Options{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if g.GrayAt(2, 1).Y != 12 {
		t.Errorf("GrayAt(2,1) = %d, want 12", g.GrayAt(2, 1).Y)
	}

	_, err = l.Load(context.Background(), srv.URL+"/missing.png", Options{})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Errorf("missing page error = %v, want HTTPError 404", err)
	}
}

func TestLoadRejectsUnsupported(t *testing.T) {
	path := writeFile(t, "notes.txt", func(w io.Writer) error {
		_, err := io.WriteString(w, "not a page\n")
		return err
	})
	l := New(nil, storage.Options{})
	if _, err := l.Load(context.Background(), path, Options{}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Load(text) error = %v, want ErrUnsupportedType", err)
	}
	if _, _, err := l.Fetch(context.Background(), filepath.Join(t.TempDir(), "gone.png")); err == nil {
		t.Error("Fetch of a missing file succeeded")
	}
}

func TestLoadMask(t *testing.T) {
	pal := color.Palette{color.Black, color.RGBA{R: 255, A: 255}, color.RGBA{B: 255, A: 255}}
	m := image.NewPaletted(image.Rect(0, 0, 3, 2), pal)
	m.Pix = []uint8{0, 1, 2, 2, 1, 0}
	path := writeFile(t, "mask.png", func(w io.Writer) error { return png.Encode(w, m) })

	l := New(nil, storage.Options{})
	r, err := l.LoadMask(context.Background(), path, 3)
	if err != nil {
		t.Fatalf("LoadMask() error: %v", err)
	}
	if r.Kind() != raster.Categorical || r.Channels() != 3 {
		t.Fatalf("mask kind=%v channels=%d", r.Kind(), r.Channels())
	}
	if r.At(0, 2, 2) != raster.On || r.At(1, 0, 2) != raster.On || r.At(1, 0, 0) != raster.Off {
		t.Errorf("palette indices not preserved: %v %v", r.Pixel(0, 2), r.Pixel(1, 0))
	}

	if _, err := l.LoadMask(context.Background(), path, 2); !errors.Is(err, raster.ErrInvalidRaster) {
		t.Errorf("index beyond class count error = %v, want ErrInvalidRaster", err)
	}
}
