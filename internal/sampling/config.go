package sampling

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects the rotation distribution.
type Mode string

const (
	// Free draws any rotation and favours moderate zoom near the page center.
	Free Mode = "free"
	// Aligned snaps rotation to a quadrant and adds bounded skew.
	Aligned Mode = "aligned"
)

// ParseMode is case-insensitive; the empty string means Free.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Free:
		return Free, nil
	case Aligned:
		return Aligned, nil
	}
	return "", fmt.Errorf("sampling: unknown mode %q", s)
}

// Config holds the policy knobs.
type Config struct {
	Mode Mode

	ZoomMin  float64
	ZoomMax  float64
	ZoomMode float64 // peak of the triangular zoom distribution

	// Skew is the maximum absolute deviation in degrees added to the
	// quadrant rotation in Aligned mode.
	Skew float64

	// MinDispersion is the minimum standard deviation of the rendered input
	// patch for a draw to be accepted.
	MinDispersion float64

	// MaxRetries caps the number of draws per call to Draw.
	MaxRetries int

	// CenterSpread scales the Gaussian center spread in Free mode as a
	// fraction of the page extent.
	CenterSpread float64
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Mode:          Free,
		ZoomMin:       -3,
		ZoomMax:       0,
		ZoomMode:      -1,
		Skew:          5,
		MinDispersion: 8,
		MaxRetries:    100,
		CenterSpread:  0.25,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"zoom_min", c.ZoomMin}, {"zoom_max", c.ZoomMax}, {"zoom_mode", c.ZoomMode},
		{"skew", c.Skew}, {"min_dispersion", c.MinDispersion}, {"center_spread", c.CenterSpread},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("sampling: %s must be finite", f.name)
		}
	}
	switch {
	case c.Mode != Free && c.Mode != Aligned:
		return fmt.Errorf("sampling: unknown mode %q", c.Mode)
	case c.ZoomMin > c.ZoomMax:
		return fmt.Errorf("sampling: zoom_min %g > zoom_max %g", c.ZoomMin, c.ZoomMax)
	case c.ZoomMode < c.ZoomMin || c.ZoomMode > c.ZoomMax:
		return fmt.Errorf("sampling: zoom_mode %g outside [%g, %g]", c.ZoomMode, c.ZoomMin, c.ZoomMax)
	case c.Skew < 0 || c.Skew >= 45:
		return fmt.Errorf("sampling: skew %g must be in [0, 45)", c.Skew)
	case c.MinDispersion < 0:
		return fmt.Errorf("sampling: min_dispersion %g must be >= 0", c.MinDispersion)
	case c.MaxRetries <= 0:
		return fmt.Errorf("sampling: max_retries %d must be positive", c.MaxRetries)
	case c.CenterSpread <= 0:
		return fmt.Errorf("sampling: center_spread %g must be positive", c.CenterSpread)
	}
	return nil
}
