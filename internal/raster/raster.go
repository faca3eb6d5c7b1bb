// Package raster holds immutable page rasters and the canvas geometry
// every viewport is resolved against.
package raster

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidRaster is returned when a raster cannot be constructed from the
// given dimensions, channel layout or pixel buffer.
var ErrInvalidRaster = errors.New("raster: invalid raster")

// Kind tells continuous intensity rasters apart from class-indicator rasters.
type Kind uint8

const (
	// Continuous rasters carry intensities (gray or color).
	Continuous Kind = iota
	// Categorical rasters carry one 0/255 indicator channel per class.
	Categorical
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// Indicator values used by categorical rasters.
const (
	Off = 0.0
	On  = 255.0
)

// MaxContinuousChannels bounds continuous rasters to gray, gray+alpha, RGB and RGBA.
const MaxContinuousChannels = 4

// Point is a continuous (row, column) location on a canvas.
type Point struct {
	Y float64
	X float64
}

// Pt is shorthand for Point{Y: y, X: x}.
func Pt(y, x float64) Point { return Point{Y: y, X: x} }

// Raster is an immutable H×W×C grid stored row-major with interleaved channels.
//
// Pixel (r, c) covers [r, r+1)×[c, c+1) on the canvas, so the canvas center of
// an H×W raster is (H/2, W/2). A Raster is never modified after New returns and
// is safe for concurrent reads.
type Raster struct {
	h, w, c int
	kind    Kind
	pix     []float64
}

// New validates the layout and takes a private copy of pix.
func New(h, w, c int, kind Kind, pix []float64) (*Raster, error) {
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidRaster, h, w)
	}
	switch kind {
	case Continuous:
		if c < 1 || c > MaxContinuousChannels {
			return nil, fmt.Errorf("%w: continuous raster with %d channels", ErrInvalidRaster, c)
		}
	case Categorical:
		if c < 2 {
			return nil, fmt.Errorf("%w: categorical raster needs at least 2 class channels, got %d", ErrInvalidRaster, c)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidRaster, kind)
	}
	if len(pix) != h*w*c {
		return nil, fmt.Errorf("%w: buffer has %d values, want %d", ErrInvalidRaster, len(pix), h*w*c)
	}
	for i, v := range pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value at offset %d", ErrInvalidRaster, i)
		}
	}
	buf := make([]float64, len(pix))
	copy(buf, pix)
	return &Raster{h: h, w: w, c: c, kind: kind, pix: buf}, nil
}

// Bounds returns the canvas height and width.
func (r *Raster) Bounds() (h, w int) { return r.h, r.w }

// Channels returns the channel count.
func (r *Raster) Channels() int { return r.c }

// Kind returns the raster kind.
func (r *Raster) Kind() Kind { return r.kind }

// Center returns the canvas center (H/2, W/2).
func (r *Raster) Center() Point { return Point{Y: float64(r.h) / 2, X: float64(r.w) / 2} }

// Contains reports whether the continuous point lies in [0,H)×[0,W).
func (r *Raster) Contains(p Point) bool {
	return p.Y >= 0 && p.Y < float64(r.h) && p.X >= 0 && p.X < float64(r.w)
}

// InBounds reports whether the integer pixel (row, col) exists.
func (r *Raster) InBounds(row, col int) bool {
	return row >= 0 && row < r.h && col >= 0 && col < r.w
}

// At returns channel ch of pixel (row, col). Callers must check InBounds.
func (r *Raster) At(row, col, ch int) float64 {
	return r.pix[(row*r.w+col)*r.c+ch]
}

// Pixel returns the channel slice of pixel (row, col). The slice aliases
// the raster storage and must not be written to.
func (r *Raster) Pixel(row, col int) []float64 {
	off := (row*r.w + col) * r.c
	return r.pix[off : off+r.c : off+r.c]
}

// BorderMedian returns the per-channel median of the outermost pixel ring.
// Page margins are background, so this is the natural fill for off-canvas
// samples when no explicit bias is configured.
func (r *Raster) BorderMedian() []float64 {
	out := make([]float64, r.c)
	ring := make([]float64, 0, 2*(r.h+r.w))
	for ch := 0; ch < r.c; ch++ {
		ring = ring[:0]
		for row := 0; row < r.h; row++ {
			if row == 0 || row == r.h-1 {
				for col := 0; col < r.w; col++ {
					ring = append(ring, r.At(row, col, ch))
				}
				continue
			}
			ring = append(ring, r.At(row, 0, ch))
			if r.w > 1 {
				ring = append(ring, r.At(row, r.w-1, ch))
			}
		}
		out[ch] = median(ring)
	}
	return out
}

func median(vals []float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
