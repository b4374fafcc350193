// Package clock provides a testable abstraction over wall-clock time.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock provides the time operations the control loop needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() if the context ended the wait.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real implements Clock using the standard time package.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep pauses the calling goroutine.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake is a manually controlled clock. Sleep advances the clock by the
// requested duration and returns immediately, so code under test runs
// through timed holds without waiting.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	onWake func(time.Time)
}

// NewFake creates a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the clock by d. A done context is honored before advancing.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	wake := f.onWake
	now := f.now
	f.mu.Unlock()
	if wake != nil {
		wake(now)
	}
	return ctx.Err()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Slept returns every duration passed to Sleep, in call order.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.slept...)
}

// OnWake registers a callback run after each Sleep with the new time.
// Tests use it to inject inputs in the middle of a timed hold.
func (f *Fake) OnWake(fn func(time.Time)) {
	f.mu.Lock()
	f.onWake = fn
	f.mu.Unlock()
}
