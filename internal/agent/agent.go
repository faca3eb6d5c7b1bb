// Package agent implements the virtual camera: a View bound to one raster
// that renders fixed-size patches for arbitrary viewport states.
package agent

import (
	"errors"
	"fmt"
	"math"

	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/viewport"
)

// Re-exported so callers of this package can classify failures without
// importing viewport.
var (
	ErrInvalidViewport       = viewport.ErrInvalidViewport
	ErrDegenerateFieldOfView = viewport.ErrDegenerateFieldOfView
)

// ErrNoState is returned by Replay before any state has been recorded.
var ErrNoState = errors.New("agent: no recorded state")

// View samples square patches from one raster.
//
// A View memoizes the last state it rendered through SetState or ApplyState
// so co-registered rasters can be re-rendered identically. That memo is the
// only mutable field: a View must not be shared between goroutines without
// external locking. The raster itself may be shared freely.
type View struct {
	r        *raster.Raster
	viewSize int
	bias     []float64
	mode     Mode
	sy, sx   float64

	last    viewport.State
	hasLast bool
}

type options struct {
	bias       []float64
	deriveBias bool
	mode       Mode
	sy, sx     float64
}

// Option configures a View.
type Option func(*options)

// WithBias sets the off-canvas fill. A single value is broadcast to every
// channel; otherwise one value per channel is required.
func WithBias(v ...float64) Option {
	return func(o *options) { o.bias = append([]float64(nil), v...); o.deriveBias = false }
}

// WithDerivedBias fills off-canvas samples with the raster's border median.
func WithDerivedBias() Option {
	return func(o *options) { o.bias = nil; o.deriveBias = true }
}

// WithMode overrides the resampling mode.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithFrame declares the raster sy×sx times denser than the reference frame
// states are expressed in.
func WithFrame(sy, sx float64) Option {
	return func(o *options) { o.sy, o.sx = sy, sx }
}

// New binds a View to r. Without a bias option the fill is 0 for continuous
// rasters and the border median for categorical ones (background class).
func New(r *raster.Raster, viewSize int, opts ...Option) (*View, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil raster", raster.ErrInvalidRaster)
	}
	if viewSize <= 0 {
		return nil, &viewport.StateError{Field: "view_size", Value: float64(viewSize), Err: ErrInvalidViewport}
	}
	o := options{mode: ModeAuto, sy: 1, sx: 1}
	if r.Kind() == raster.Categorical {
		o.deriveBias = true
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !(o.sy > 0) || !(o.sx > 0) || math.IsInf(o.sy, 0) || math.IsInf(o.sx, 0) {
		return nil, fmt.Errorf("%w: frame scale %gx%g", ErrInvalidViewport, o.sy, o.sx)
	}

	c := r.Channels()
	var bias []float64
	switch {
	case o.deriveBias:
		bias = r.BorderMedian()
	case len(o.bias) == 0:
		bias = make([]float64, c)
	case len(o.bias) == 1:
		bias = make([]float64, c)
		for i := range bias {
			bias[i] = o.bias[0]
		}
	case len(o.bias) == c:
		bias = o.bias
	default:
		return nil, fmt.Errorf("%w: %d bias values for %d channels", ErrInvalidViewport, len(o.bias), c)
	}
	for _, b := range bias {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return nil, fmt.Errorf("%w: non-finite bias", ErrInvalidViewport)
		}
	}

	return &View{
		r:        r,
		viewSize: viewSize,
		bias:     bias,
		mode:     resolveMode(o.mode, r.Kind()),
		sy:       o.sy,
		sx:       o.sx,
	}, nil
}

// Raster returns the bound raster.
func (v *View) Raster() *raster.Raster { return v.r }

// ViewSize returns the output side in pixels.
func (v *View) ViewSize() int { return v.viewSize }

// Mode returns the effective resampling mode.
func (v *View) Mode() Mode { return v.mode }

// Bias returns a copy of the per-channel fill value.
func (v *View) Bias() []float64 { return append([]float64(nil), v.bias...) }

// Render samples a patch without touching the memoized state.
func (v *View) Render(center raster.Point, rotation, zoom float64) (Patch, error) {
	return v.render(viewport.State{Center: center, Rotation: rotation, Zoom: zoom})
}

// SetState renders like Render and records the state for replay.
func (v *View) SetState(center raster.Point, rotation, zoom float64) (Patch, error) {
	return v.ApplyState(viewport.State{Center: center, Rotation: rotation, Zoom: zoom})
}

// ApplyState renders a previously chosen state and records it. It is how
// co-registered rasters are kept aligned with an already drawn input view.
func (v *View) ApplyState(s viewport.State) (Patch, error) {
	p, err := v.render(s)
	if err != nil {
		return Patch{}, err
	}
	v.last, v.hasLast = s.Normalize(), true
	return p, nil
}

// Replay re-renders the recorded state.
func (v *View) Replay() (Patch, error) {
	if !v.hasLast {
		return Patch{}, ErrNoState
	}
	return v.render(v.last)
}

// LastState returns the recorded state, if any.
func (v *View) LastState() (viewport.State, bool) { return v.last, v.hasLast }

func (v *View) render(s viewport.State) (Patch, error) {
	m, err := viewport.Transform(s, v.viewSize)
	if err != nil {
		return Patch{}, err
	}
	m = m.Scaled(v.sy, v.sx)

	sample := sampleBilinear
	if v.mode == Nearest {
		sample = sampleNearest
	}
	c := v.r.Channels()
	p := NewPatch(v.viewSize, c)
	for i := 0; i < v.viewSize; i++ {
		for j := 0; j < v.viewSize; j++ {
			row, col := m.Index(i, j)
			off := (i*v.viewSize + j) * c
			sample(v.r, row, col, v.bias, p.Pix[off:off+c])
		}
	}
	return p, nil
}
