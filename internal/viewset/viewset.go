// Package viewset renders several co-registered rasters of one page through
// a single shared viewport state.
package viewset

import (
	"fmt"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/viewport"
)

// Member declares one raster of the set. The first member of a Set is the
// reference (the model input); states are expressed in its pixel frame.
type Member struct {
	Name    string
	Raster  *raster.Raster
	Options []agent.Option
}

// Patches is one synchronized draw: Patches[k] belongs to member k.
type Patches struct {
	State   viewport.State
	Names   []string
	Patches []agent.Patch
}

// Get returns the patch of the named member.
func (p Patches) Get(name string) (agent.Patch, bool) {
	for i, n := range p.Names {
		if n == name {
			return p.Patches[i], true
		}
	}
	return agent.Patch{}, false
}

// Set owns one agent.View per member. Like a View it is not safe for
// concurrent use.
type Set struct {
	names []string
	views []*agent.View
	ref   *raster.Raster
}

// New builds a Set. Members whose raster resolution differs from the
// reference get a frame scale so that output pixel (i, j) of every member
// covers the same page location.
func New(viewSize int, members ...Member) (*Set, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: empty view set", raster.ErrInvalidRaster)
	}
	ref := members[0].Raster
	if ref == nil {
		return nil, fmt.Errorf("%w: nil reference raster %q", raster.ErrInvalidRaster, members[0].Name)
	}
	rh, rw := ref.Bounds()

	s := &Set{ref: ref}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m.Name == "" || seen[m.Name] {
			return nil, fmt.Errorf("viewset: member name %q is empty or duplicated", m.Name)
		}
		seen[m.Name] = true
		if m.Raster == nil {
			return nil, fmt.Errorf("%w: nil raster for member %q", raster.ErrInvalidRaster, m.Name)
		}
		h, w := m.Raster.Bounds()
		opts := append([]agent.Option{agent.WithFrame(float64(h)/float64(rh), float64(w)/float64(rw))}, m.Options...)
		v, err := agent.New(m.Raster, viewSize, opts...)
		if err != nil {
			return nil, fmt.Errorf("viewset: member %q: %w", m.Name, err)
		}
		s.names = append(s.names, m.Name)
		s.views = append(s.views, v)
	}
	return s, nil
}

// Names returns member names in render order.
func (s *Set) Names() []string { return append([]string(nil), s.names...) }

// Reference returns the raster states are expressed against.
func (s *Set) Reference() *raster.Raster { return s.ref }

// ViewSize returns the shared output side.
func (s *Set) ViewSize() int { return s.views[0].ViewSize() }

// Render draws every member with one state.
func (s *Set) Render(center raster.Point, rotation, zoom float64) (Patches, error) {
	return s.RenderState(viewport.State{Center: center, Rotation: rotation, Zoom: zoom})
}

// RenderState applies state to every member through ApplyState. The state
// is validated once up front, so either every member renders or none does.
func (s *Set) RenderState(state viewport.State) (Patches, error) {
	if err := s.check(state); err != nil {
		return Patches{}, err
	}
	state = state.Normalize()
	out := Patches{State: state, Names: s.Names(), Patches: make([]agent.Patch, len(s.views))}
	for i, v := range s.views {
		p, err := v.ApplyState(state)
		if err != nil {
			return Patches{}, fmt.Errorf("viewset: member %q: %w", s.names[i], err)
		}
		out.Patches[i] = p
	}
	return out, nil
}

// RenderInput renders only the reference member, for acceptance tests that should
// not pay for the target rasters.
func (s *Set) RenderInput(state viewport.State) (agent.Patch, error) {
	if err := s.check(state); err != nil {
		return agent.Patch{}, err
	}
	return s.views[0].Render(state.Center, state.Rotation, state.Zoom)
}

// LastStates reports each member's memoized state; after a successful
// RenderState they are all equal.
func (s *Set) LastStates() []viewport.State {
	out := make([]viewport.State, len(s.views))
	for i, v := range s.views {
		out[i], _ = v.LastState()
	}
	return out
}

func (s *Set) check(state viewport.State) error {
	if err := state.Validate(s.ViewSize()); err != nil {
		return err
	}
	if !s.ref.Contains(state.Center) {
		return fmt.Errorf("%w: center (%g,%g) off canvas", viewport.ErrInvalidViewport, state.Center.Y, state.Center.X)
	}
	return nil
}
