package sampling

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/viewport"
	"github.com/local/viewsynth/internal/viewset"
)

func pageSet(t *testing.T, blank bool) *viewset.Set {
	t.Helper()
	const n = 96
	pix := make([]float64, n*n)
	idx := make([]uint8, n*n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			pix[r*n+c] = 255
			if !blank && (r/4)%2 == 0 && c > 8 && c < n-8 {
				pix[r*n+c] = 0
				idx[r*n+c] = 1
			}
		}
	}
	page, err := raster.New(n, n, 1, raster.Continuous, pix)
	if err != nil {
		t.Fatalf("raster.New failed: %v", err)
	}
	mask, err := raster.FromClassIndices(n, n, 2, idx)
	if err != nil {
		t.Fatalf("FromClassIndices failed: %v", err)
	}
	set, err := viewset.New(16,
		viewset.Member{Name: "input", Raster: page, Options: []agent.Option{agent.WithDerivedBias()}},
		viewset.Member{Name: "mask", Raster: mask},
	)
	if err != nil {
		t.Fatalf("viewset.New failed: %v", err)
	}
	return set
}

func TestDrawAcceptsInformativeViews(t *testing.T) {
	Convey("Given a striped page and a free policy", t, func() {
		cfg := DefaultConfig()
		cfg.MinDispersion = 20
		p, err := New(cfg, rand.New(rand.NewSource(7)))
		So(err, ShouldBeNil)
		set := pageSet(t, false)

		Convey("every accepted draw meets the threshold and is synchronized", func() {
			for k := 0; k < 20; k++ {
				d, err := p.Draw(set)
				So(err, ShouldBeNil)
				So(d.Dispersion, ShouldBeGreaterThanOrEqualTo, 20)
				So(d.Attempts, ShouldBeBetweenOrEqual, 1, cfg.MaxRetries)
				So(set.Reference().Contains(d.State.Center), ShouldBeTrue)
				So(d.State.Rotation, ShouldBeGreaterThanOrEqualTo, 0)
				So(d.State.Rotation, ShouldBeLessThan, 360)
				So(d.State.Zoom, ShouldBeBetweenOrEqual, cfg.ZoomMin, cfg.ZoomMax)
				So(len(d.Patches.Patches), ShouldEqual, 2)
				for _, st := range set.LastStates() {
					So(st, ShouldResemble, d.State)
				}
			}
		})
	})
}

func TestDrawTerminatesOnBlankPage(t *testing.T) {
	Convey("Given an all-blank page and a retry ceiling", t, func() {
		cfg := DefaultConfig()
		cfg.MaxRetries = 25
		p, err := New(cfg, rand.New(rand.NewSource(3)))
		So(err, ShouldBeNil)

		_, err = p.Draw(pageSet(t, true))

		Convey("Draw fails with ErrSamplingExhausted", func() {
			So(errors.Is(err, ErrSamplingExhausted), ShouldBeTrue)
			var ex *ExhaustedError
			So(errors.As(err, &ex), ShouldBeTrue)
			So(ex.Attempts, ShouldEqual, 25)
			So(ex.BestDispersion, ShouldBeLessThan, cfg.MinDispersion)
		})

		Convey("the default state is a usable fallback", func() {
			set := pageSet(t, true)
			st := p.DefaultState(set.Reference())
			So(st.Center, ShouldResemble, raster.Pt(48, 48))
			_, err := set.RenderState(st)
			So(err, ShouldBeNil)
		})
	})
}

func TestAlignedMode(t *testing.T) {
	Convey("Given an aligned policy with 3 degrees of skew", t, func() {
		cfg := DefaultConfig()
		cfg.Mode = Aligned
		cfg.Skew = 3
		cfg.MinDispersion = 0
		p, err := New(cfg, rand.New(rand.NewSource(11)))
		So(err, ShouldBeNil)
		set := pageSet(t, false)

		seen := map[int]bool{}
		for k := 0; k < 64; k++ {
			d, err := p.Draw(set)
			So(err, ShouldBeNil)
			So(d.Quadrant, ShouldBeBetweenOrEqual, 0, 3)
			So(math.Abs(d.Skew), ShouldBeLessThanOrEqualTo, 3)
			want := viewport.NormalizeDegrees(float64(d.Quadrant)*90 + d.Skew)
			So(d.State.Rotation, ShouldAlmostEqual, want, 1e-9)
			seen[d.Quadrant] = true
		}
		So(len(seen), ShouldEqual, 4)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted zoom range", func(c *Config) { c.ZoomMin, c.ZoomMax = 1, -1 }},
		{"mode outside range", func(c *Config) { c.ZoomMode = 4 }},
		{"negative skew", func(c *Config) { c.Skew = -1 }},
		{"quarter-turn skew", func(c *Config) { c.Skew = 45 }},
		{"no retries", func(c *Config) { c.MaxRetries = 0 }},
		{"nan threshold", func(c *Config) { c.MinDispersion = math.NaN() }},
		{"unknown mode", func(c *Config) { c.Mode = "spiral" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, nil); err == nil {
				t.Fatalf("New() accepted %+v", cfg)
			}
		})
	}
	if _, err := New(DefaultConfig(), nil); err != nil {
		t.Fatalf("DefaultConfig rejected: %v", err)
	}
}

func TestTriangular(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		v := triangular(rng, -3, -1, 0)
		if v < -3 || v > 0 {
			t.Fatalf("triangular sample %v outside [-3, 0]", v)
		}
		sum += v
	}
	// Mean of a triangular distribution is (lo+mode+hi)/3.
	if mean := sum / n; math.Abs(mean-(-4.0/3)) > 0.05 {
		t.Errorf("mean = %v, want about %v", mean, -4.0/3)
	}
	if got := triangular(rng, 2, 2, 2); got != 2 {
		t.Errorf("degenerate range = %v, want 2", got)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Free, "FREE": Free, " aligned ": Aligned} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("tilted"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}
