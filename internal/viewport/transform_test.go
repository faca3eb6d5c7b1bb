package viewport

import (
	"errors"
	"math"
	"testing"

	"github.com/local/viewsynth/internal/raster"
)

func TestFieldOfView(t *testing.T) {
	tests := []struct {
		name     string
		viewSize int
		zoom     float64
		want     float64
		wantErr  bool
	}{
		{"unit zoom", 32, 0, 32, false},
		{"zoom out one stop", 32, -1, 64, false},
		{"zoom in two stops", 32, 2, 8, false},
		{"overflow", 32, -5000, 0, true},
		{"underflow", 32, 5000, 0, true},
		{"infinite zoom", 32, math.Inf(1), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FieldOfView(tt.viewSize, tt.zoom)
			if tt.wantErr {
				if !errors.Is(err, ErrDegenerateFieldOfView) {
					t.Fatalf("FieldOfView() error = %v, want ErrDegenerateFieldOfView", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("FieldOfView() = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestTransformRejectsInvalidState(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		viewSize int
		want     error
	}{
		{"zero view", State{Center: raster.Pt(1, 1)}, 0, ErrInvalidViewport},
		{"nan center", State{Center: raster.Pt(math.NaN(), 1)}, 8, ErrInvalidViewport},
		{"inf rotation", State{Center: raster.Pt(1, 1), Rotation: math.Inf(-1)}, 8, ErrInvalidViewport},
		{"nan zoom", State{Center: raster.Pt(1, 1), Zoom: math.NaN()}, 8, ErrDegenerateFieldOfView},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transform(tt.state, tt.viewSize)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Transform() error = %v, want %v", err, tt.want)
			}
			var se *StateError
			if !errors.As(err, &se) {
				t.Fatalf("Transform() error %T is not a *StateError", err)
			}
		})
	}
}

// At zoom 0 every output pixel lands exactly on a source pixel center.
func TestTransformAxisAlignedIndices(t *testing.T) {
	const n = 8
	center := raster.Pt(20, 30)

	tests := []struct {
		rotation float64
		want     func(i, j int) (float64, float64)
	}{
		{0, func(i, j int) (float64, float64) { return float64(20 - n/2 + i), float64(30 - n/2 + j) }},
		{90, func(i, j int) (float64, float64) { return float64(20 + n/2 - 1 - j), float64(30 - n/2 + i) }},
		{180, func(i, j int) (float64, float64) { return float64(20 + n/2 - 1 - i), float64(30 + n/2 - 1 - j) }},
		{270, func(i, j int) (float64, float64) { return float64(20 - n/2 + j), float64(30 + n/2 - 1 - i) }},
	}

	for _, tt := range tests {
		m, err := Transform(State{Center: center, Rotation: tt.rotation}, n)
		if err != nil {
			t.Fatalf("Transform(rot=%v) failed: %v", tt.rotation, err)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				row, col := m.Index(i, j)
				wr, wc := tt.want(i, j)
				if row != wr || col != wc {
					t.Fatalf("rot=%v Index(%d,%d) = (%v,%v), want (%v,%v)", tt.rotation, i, j, row, col, wr, wc)
				}
			}
		}
	}
}

func TestTransformPeriodicity(t *testing.T) {
	base := State{Center: raster.Pt(50.25, 70.5), Rotation: 33.3, Zoom: -0.7}
	wrapped := base
	wrapped.Rotation += 360
	negative := base
	negative.Rotation -= 720

	m0, err := Transform(base, 16)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	for _, s := range []State{wrapped, negative} {
		m1, err := Transform(s, 16)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		for i := 0; i < 16; i++ {
			for j := 0; j < 16; j++ {
				p0, p1 := m0.Source(i, j), m1.Source(i, j)
				if math.Abs(p0.X-p1.X) > 1e-9 || math.Abs(p0.Y-p1.Y) > 1e-9 {
					t.Fatalf("rotation %v: Source(%d,%d) = %+v, want %+v", s.Rotation, i, j, p1, p0)
				}
			}
		}
	}
}

func TestTransformCoversFieldOfView(t *testing.T) {
	m, err := Transform(State{Center: raster.Pt(128, 128), Zoom: -1}, 32)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if m.FieldOfView() != 64 {
		t.Fatalf("FieldOfView() = %v, want 64", m.FieldOfView())
	}
	first, last := m.Source(0, 0), m.Source(31, 31)
	// Pixel centers sit half an output pixel (one source unit) inside the window.
	if first.Y != 97 || first.X != 97 || last.Y != 159 || last.X != 159 {
		t.Errorf("corner sources = %+v, %+v; want (97,97), (159,159)", first, last)
	}
}

func TestNormalizeDegrees(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0}, {360, 0}, {-90, 270}, {725, 5}, {-1e-20, 0},
	}
	for _, tt := range tests {
		if got := NormalizeDegrees(tt.in); got != tt.want {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMappingScaled(t *testing.T) {
	m, err := Transform(State{Center: raster.Pt(10, 20), Rotation: 0}, 4)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	s := m.Scaled(2, 0.5)
	p, q := m.Source(1, 3), s.Source(1, 3)
	if q.Y != 2*p.Y || q.X != 0.5*p.X {
		t.Errorf("Scaled Source = %+v, want (%v,%v)", q, 2*p.Y, 0.5*p.X)
	}
}
