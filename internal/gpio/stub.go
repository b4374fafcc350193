//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/signal-controller/internal/logic"
)

// RealHead is not available on non-Linux platforms.
type RealHead struct{}

// NewRealHead returns an error on non-Linux platforms.
func NewRealHead(chip string, lanes logic.Lanes, layout Layout) (*RealHead, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Apply is not implemented on non-Linux platforms.
func (h *RealHead) Apply(logic.Lights) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (h *RealHead) Close() error {
	return nil
}
