package agent

import (
	"math"

	"github.com/local/viewsynth/internal/raster"
)

// Mode selects how a View resamples its raster.
type Mode uint8

const (
	// ModeAuto picks Bilinear for continuous rasters and Nearest for
	// categorical ones.
	ModeAuto Mode = iota

	// Bilinear interpolates between the 4 neighbouring samples.
	Bilinear

	// Nearest selects the sample whose center is closest. Class masks stay
	// strictly 0/255 under any rotation.
	Nearest
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case Bilinear:
		return "bilinear"
	case Nearest:
		return "nearest"
	default:
		return "unknown"
	}
}

// ParseMode accepts the names produced by String.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "auto":
		return ModeAuto, true
	case "bilinear":
		return Bilinear, true
	case "nearest":
		return Nearest, true
	}
	return ModeAuto, false
}

func resolveMode(m Mode, k raster.Kind) Mode {
	if m != ModeAuto {
		return m
	}
	if k == raster.Categorical {
		return Nearest
	}
	return Bilinear
}

// sampleNearest writes the pixel nearest to index (row, col) into dst.
// Canvas edges belong to the first row and column: index -0.5 rounds to 0.
func sampleNearest(r *raster.Raster, row, col float64, bias, dst []float64) {
	y := int(math.Floor(row + 0.5))
	x := int(math.Floor(col + 0.5))
	if !r.InBounds(y, x) {
		copy(dst, bias)
		return
	}
	copy(dst, r.Pixel(y, x))
}

// sampleBilinear blends the 4 samples around index (row, col) into dst.
// Neighbours outside the canvas contribute bias; zero-weight neighbours are
// skipped so integer indices reproduce the source exactly.
func sampleBilinear(r *raster.Raster, row, col float64, bias, dst []float64) {
	if outside(r, row, col, 1) {
		copy(dst, bias)
		return
	}
	y0f, x0f := math.Floor(row), math.Floor(col)
	ty, tx := row-y0f, col-x0f
	y0, x0 := int(y0f), int(x0f)

	for ch := range dst {
		dst[ch] = 0
	}
	corners := [4]struct {
		y, x int
		w    float64
	}{
		{y0, x0, (1 - ty) * (1 - tx)},
		{y0, x0 + 1, (1 - ty) * tx},
		{y0 + 1, x0, ty * (1 - tx)},
		{y0 + 1, x0 + 1, ty * tx},
	}
	for _, c := range corners {
		if c.w == 0 {
			continue
		}
		var src []float64
		if r.InBounds(c.y, c.x) {
			src = r.Pixel(c.y, c.x)
		} else {
			src = bias
		}
		for ch := range dst {
			dst[ch] += c.w * src[ch]
		}
	}
}

// outside reports whether index (row, col) is at least reach away from every
// sample index, i.e. no sample can contribute to it.
func outside(r *raster.Raster, row, col, reach float64) bool {
	h, w := r.Bounds()
	return !(row > -reach && row < float64(h-1)+reach && col > -reach && col < float64(w-1)+reach)
}
