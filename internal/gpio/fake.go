package gpio

import (
	"sync"

	"github.com/sweeney/signal-controller/internal/logic"
)

// FakeHead is a test double that records every applied state.
type FakeHead struct {
	mu sync.Mutex

	// Applied contains each state passed to Apply, in order.
	Applied []logic.Lights

	// ApplyError, if set, will be returned by Apply.
	ApplyError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeHead creates a FakeHead.
func NewFakeHead() *FakeHead {
	return &FakeHead{}
}

// Apply records lights.
func (f *FakeHead) Apply(lights logic.Lights) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApplyError != nil {
		return f.ApplyError
	}
	f.Applied = append(f.Applied, lights.Clone())
	return nil
}

// Current returns the most recently applied state, or nil.
func (f *FakeHead) Current() logic.Lights {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Applied) == 0 {
		return nil
	}
	return f.Applied[len(f.Applied)-1]
}

// Close marks the head as closed. Like real hardware it leaves every lane red.
func (f *FakeHead) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	var lanes logic.Lanes
	if n := len(f.Applied); n > 0 {
		for l := range f.Applied[n-1] {
			lanes = append(lanes, l)
		}
	}
	f.Applied = append(f.Applied, logic.AllRed(lanes))
	return nil
}
