package pagesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/local/viewsynth/internal/raster"
)

var (
	// ErrUnsupportedType is returned for sources that are neither a PDF nor a
	// decodable image.
	ErrUnsupportedType = errors.New("pagesource: unsupported file type")
	// ErrPageRange is returned when a PDF page number is outside the document.
	ErrPageRange = errors.New("pagesource: page out of range")
)

// Options selects what to rasterize from a document source.
type Options struct {
	Page int // 1-based; 0 means the first page
	DPI  int // PDF render resolution; 0 means 150
}

// Load fetches ref and returns its luminance. PDFs are rendered, images are
// decoded.
func (l *Loader) Load(ctx context.Context, ref string, opts Options) (*image.Gray, error) {
	img, err := l.decode(ctx, ref, opts)
	if err != nil {
		return nil, err
	}
	return raster.ToGray(img), nil
}

// LoadPage loads ref as a continuous one-channel raster.
func (l *Loader) LoadPage(ctx context.Context, ref string, opts Options) (*raster.Raster, error) {
	img, err := l.decode(ctx, ref, opts)
	if err != nil {
		return nil, err
	}
	return raster.FromImage(img)
}

func (l *Loader) decode(ctx context.Context, ref string, opts Options) (image.Image, error) {
	path, cleanup, err := l.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	log.Debug().Str("mime", mime.String()).Str("ref", ref).Msg("detected page source type")

	switch {
	case mime.Is("application/pdf"):
		return renderPDFPage(path, opts)
	case isImage(mime):
		return decodeFile(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String())
}

// LoadMask loads a label image whose pixel values are class indices. Paletted
// images use the palette index, anything else its gray level.
func (l *Loader) LoadMask(ctx context.Context, ref string, classes int) (*raster.Raster, error) {
	path, cleanup, err := l.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	if !isImage(mime) {
		return nil, fmt.Errorf("%w: mask must be an image, got %s", ErrUnsupportedType, mime.String())
	}
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return raster.FromClassImage(classIndexImage(img), classes)
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

func renderPDFPage(path string, opts Options) (*image.Gray, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 150
	}
	total, err := PageCount(path)
	if err != nil {
		return nil, err
	}
	if page > total {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageRange, page, total)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	gray := raster.ToGray(img)
	log.Debug().
		Int("page", page).
		Int("dpi", dpi).
		Int("width", gray.Rect.Dx()).
		Int("height", gray.Rect.Dy()).
		Msg("rendered page to grayscale")
	return gray, nil
}

func isImage(m *mimetype.MIME) bool {
	for _, t := range []string{"image/png", "image/jpeg", "image/gif", "image/tiff", "image/bmp"} {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func classIndexImage(img image.Image) *image.Gray {
	p, ok := img.(*image.Paletted)
	if !ok {
		return raster.ToGray(img)
	}
	b := p.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(g.Pix[y*g.Stride:y*g.Stride+b.Dx()], p.Pix[y*p.Stride:y*p.Stride+b.Dx()])
	}
	return g
}
