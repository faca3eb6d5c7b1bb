package viewport

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidViewport is returned for a non-positive view size or a
	// non-finite state component.
	ErrInvalidViewport = errors.New("viewport: invalid viewport")

	// ErrDegenerateFieldOfView is returned when view_size * 2^(-zoom) is not
	// a finite positive number.
	ErrDegenerateFieldOfView = errors.New("viewport: degenerate field of view")
)

// StateError reports which viewport parameter was rejected.
type StateError struct {
	Field string
	Value float64
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: %s=%g", e.Err, e.Field, e.Value)
}

func (e *StateError) Unwrap() error { return e.Err }
