// Package viewport maps output patch pixels back onto page coordinates.
//
// A viewport is a square window of ViewSize×ViewSize output pixels placed on a
// page by a State: its center, its rotation in degrees and a base-2 zoom
// exponent. The mapping is the inverse transform (output → source) so every
// output pixel is resolved independently and no error accumulates across a
// patch.
package viewport

import (
	"math"

	"golang.org/x/image/math/f64"

	"github.com/local/viewsynth/internal/raster"
)

// State places a viewport on a page. It is a value type; a State is never
// modified by rendering.
type State struct {
	Center   raster.Point
	Rotation float64 // degrees, any real; wraps at 360
	Zoom     float64 // base-2 exponent; 0 is 1:1, negative zooms out
}

// Normalize returns the state with Rotation folded into [0, 360).
func (s State) Normalize() State {
	s.Rotation = NormalizeDegrees(s.Rotation)
	return s
}

// NormalizeDegrees folds an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// FieldOfView returns the side of the source square covered by a viewport.
func FieldOfView(viewSize int, zoom float64) (float64, error) {
	fov := float64(viewSize) * math.Exp2(-zoom)
	if math.IsNaN(fov) || math.IsInf(fov, 0) || fov <= 0 {
		return 0, &StateError{Field: "zoom", Value: zoom, Err: ErrDegenerateFieldOfView}
	}
	return fov, nil
}

// Validate checks the state against a view size without building a mapping.
func (s State) Validate(viewSize int) error {
	if viewSize <= 0 {
		return &StateError{Field: "view_size", Value: float64(viewSize), Err: ErrInvalidViewport}
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"center.y", s.Center.Y},
		{"center.x", s.Center.X},
		{"rotation", s.Rotation},
	} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return &StateError{Field: c.name, Value: c.v, Err: ErrInvalidViewport}
		}
	}
	if math.IsNaN(s.Zoom) {
		return &StateError{Field: "zoom", Value: s.Zoom, Err: ErrDegenerateFieldOfView}
	}
	_, err := FieldOfView(viewSize, s.Zoom)
	return err
}

// Mapping is the inverse affine transform from output pixel space to the
// continuous source canvas. The matrix is stored as an f64.Aff3 over (x, y)
// = (column, row):
//
//	x' = m[0]*x + m[1]*y + m[2]
//	y' = m[3]*x + m[4]*y + m[5]
type Mapping struct {
	m        f64.Aff3
	viewSize int
	fov      float64
}

// Transform builds the mapping for state at the given output size.
//
// For output pixel (i, j) the pixel center is offset from the patch center,
// scaled by 2^(-zoom), rotated by -rotation and translated by the state's
// center.
func Transform(state State, viewSize int) (Mapping, error) {
	if err := state.Validate(viewSize); err != nil {
		return Mapping{}, err
	}
	fov, _ := FieldOfView(viewSize, state.Zoom)
	scale := fov / float64(viewSize)
	cos, sin := sinCosDeg(NormalizeDegrees(state.Rotation))

	// Rotation by -θ: [cos sin; -sin cos].
	a, b := scale*cos, scale*sin
	d, e := -scale*sin, scale*cos
	k := 0.5 - float64(viewSize)/2
	return Mapping{
		m: f64.Aff3{
			a, b, a*k + b*k + state.Center.X,
			d, e, d*k + e*k + state.Center.Y,
		},
		viewSize: viewSize,
		fov:      fov,
	}, nil
}

// ViewSize returns the output side in pixels.
func (m Mapping) ViewSize() int { return m.viewSize }

// FieldOfView returns the sampled source side in reference units.
func (m Mapping) FieldOfView() float64 { return m.fov }

// Source returns the continuous canvas point under the center of output
// pixel (i, j).
func (m Mapping) Source(i, j int) raster.Point {
	x, y := float64(j), float64(i)
	return raster.Point{
		X: m.m[0]*x + m.m[1]*y + m.m[2],
		Y: m.m[3]*x + m.m[4]*y + m.m[5],
	}
}

// Index returns the fractional sample index (row, column) for output pixel
// (i, j): the source point shifted so that integer values hit pixel centers.
func (m Mapping) Index(i, j int) (row, col float64) {
	p := m.Source(i, j)
	return p.Y - 0.5, p.X - 0.5
}

// Scaled re-expresses the mapping in a raster whose pixels are sy×sx times
// denser than the reference frame.
func (m Mapping) Scaled(sy, sx float64) Mapping {
	if sy == 1 && sx == 1 {
		return m
	}
	out := m
	out.m = f64.Aff3{
		m.m[0] * sx, m.m[1] * sx, m.m[2] * sx,
		m.m[3] * sy, m.m[4] * sy, m.m[5] * sy,
	}
	return out
}

// sinCosDeg returns exact values on the axes so axis-aligned viewports hit
// pixel centers without rounding drift.
func sinCosDeg(deg float64) (cos, sin float64) {
	switch deg {
	case 0:
		return 1, 0
	case 90:
		return 0, 1
	case 180:
		return -1, 0
	case 270:
		return 0, -1
	}
	s, c := math.Sincos(deg * math.Pi / 180)
	return c, s
}
