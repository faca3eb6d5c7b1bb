// Package sampling draws informative random viewport states by rejection.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/viewport"
	"github.com/local/viewsynth/internal/viewset"
)

// ErrSamplingExhausted is returned when no acceptable state was found within
// the retry ceiling.
var ErrSamplingExhausted = errors.New("sampling: exhausted")

// ExhaustedError carries the details of a failed Draw.
type ExhaustedError struct {
	Attempts       int
	BestDispersion float64
	Threshold      float64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v: %d attempts, best dispersion %.3f < %.3f", ErrSamplingExhausted, e.Attempts, e.BestDispersion, e.Threshold)
}

func (e *ExhaustedError) Unwrap() error { return ErrSamplingExhausted }

// Target is what a Policy draws from; *viewset.Set implements it.
type Target interface {
	Reference() *raster.Raster
	RenderInput(state viewport.State) (agent.Patch, error)
	RenderState(state viewport.State) (viewset.Patches, error)
}

// Draw is one accepted synchronized sample.
type Draw struct {
	viewset.Patches

	Attempts   int
	Dispersion float64

	// Quadrant (0..3, multiples of 90°) and Skew (signed degrees) label the
	// alignment deviation. Both are zero in Free mode.
	Quadrant int
	Skew     float64
}

// Policy draws states for one worker. It owns its random source and is not
// safe for concurrent use.
type Policy struct {
	cfg Config
	rng *rand.Rand
}

// New validates cfg. A nil rng gets a fixed seed so runs are reproducible.
func New(cfg Config, rng *rand.Rand) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Policy{cfg: cfg, rng: rng}, nil
}

// Config returns the policy configuration.
func (p *Policy) Config() Config { return p.cfg }

// Draw samples states until the rendered input view is informative enough,
// then renders every member of t with the accepted state.
func (p *Policy) Draw(t Target) (Draw, error) {
	ref := t.Reference()
	best := math.Inf(-1)
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		st, quadrant, skew := p.nextState(ref)
		in, err := t.RenderInput(st)
		if err != nil {
			return Draw{}, err
		}
		d := in.StdDev()
		if d > best {
			best = d
		}
		if d < p.cfg.MinDispersion {
			log.Debug().
				Int("attempt", attempt).
				Float64("dispersion", d).
				Float64("threshold", p.cfg.MinDispersion).
				Msg("rejected blank view")
			continue
		}
		out, err := t.RenderState(st)
		if err != nil {
			return Draw{}, err
		}
		return Draw{Patches: out, Attempts: attempt, Dispersion: d, Quadrant: quadrant, Skew: skew}, nil
	}
	return Draw{}, &ExhaustedError{Attempts: p.cfg.MaxRetries, BestDispersion: best, Threshold: p.cfg.MinDispersion}
}

// DefaultState is the explicit fallback a caller may render after
// ErrSamplingExhausted: the page center, upright, at the modal zoom.
func (p *Policy) DefaultState(ref *raster.Raster) viewport.State {
	return viewport.State{Center: ref.Center(), Rotation: 0, Zoom: p.cfg.ZoomMode}
}

func (p *Policy) nextState(ref *raster.Raster) (viewport.State, int, float64) {
	zoom := triangular(p.rng, p.cfg.ZoomMin, p.cfg.ZoomMode, p.cfg.ZoomMax)
	switch p.cfg.Mode {
	case Aligned:
		quadrant := p.rng.Intn(4)
		skew := (2*p.rng.Float64() - 1) * p.cfg.Skew
		return viewport.State{
			Center:   uniformCenter(p.rng, ref),
			Rotation: viewport.NormalizeDegrees(float64(quadrant)*90 + skew),
			Zoom:     zoom,
		}, quadrant, skew
	default:
		return viewport.State{
			Center:   p.gaussianCenter(ref),
			Rotation: p.rng.Float64() * 360,
			Zoom:     zoom,
		}, 0, 0
	}
}

// gaussianCenter draws around the page center, truncated to the canvas.
func (p *Policy) gaussianCenter(ref *raster.Raster) raster.Point {
	h, w := ref.Bounds()
	c := ref.Center()
	for i := 0; i < 16; i++ {
		pt := raster.Point{
			Y: c.Y + p.rng.NormFloat64()*p.cfg.CenterSpread*float64(h),
			X: c.X + p.rng.NormFloat64()*p.cfg.CenterSpread*float64(w),
		}
		if ref.Contains(pt) {
			return pt
		}
	}
	return uniformCenter(p.rng, ref)
}

func uniformCenter(rng *rand.Rand, ref *raster.Raster) raster.Point {
	h, w := ref.Bounds()
	return raster.Point{Y: rng.Float64() * float64(h), X: rng.Float64() * float64(w)}
}

// triangular samples the triangular distribution on [lo, hi] peaking at mode.
func triangular(rng *rand.Rand, lo, mode, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	u := rng.Float64()
	f := (mode - lo) / (hi - lo)
	if u < f {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}
