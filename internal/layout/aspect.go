package layout

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidArgument is returned for negative ratio components
var ErrInvalidArgument = errors.New("invalid argument")

// AspectRatio fits a preview surface to the camera's aspect ratio.
// A zero component means "no ratio": Measure returns the offered size.
type AspectRatio struct {
	mu            sync.RWMutex
	width, height int
}

// NewAspectRatio creates a ratio, validating it like Set
func NewAspectRatio(width, height int) (*AspectRatio, error) {
	a := &AspectRatio{}
	if err := a.Set(width, height); err != nil {
		return nil, err
	}
	return a, nil
}

// Set replaces the ratio. Negative values fail without changing state.
func (a *AspectRatio) Set(width, height int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: aspect ratio %d:%d must not be negative", ErrInvalidArgument, width, height)
	}
	a.mu.Lock()
	a.width, a.height = width, height
	a.mu.Unlock()
	return nil
}

// Ratio returns the configured components
func (a *AspectRatio) Ratio() (int, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.width, a.height
}

// Measure returns the largest size with the configured ratio that fits in
// width x height, keeping one side at its offered length.
func (a *AspectRatio) Measure(width, height int) (int, int) {
	rw, rh := a.Ratio()
	if rw == 0 || rh == 0 {
		return width, height
	}
	if width < height*rw/rh {
		return width, width * rh / rw
	}
	return height * rw / rh, height
}
