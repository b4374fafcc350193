package logic

import "time"

// Override is one emergency preemption.
type Override struct {
	Direction   Lane
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

// Registry holds at most one active emergency preemption.
// Not safe for concurrent use; it is owned by the control loop.
type Registry struct {
	lanes  Lanes
	active *Override
}

// NewRegistry creates an empty registry that accepts the given lanes.
func NewRegistry(lanes Lanes) *Registry {
	return &Registry{lanes: lanes}
}

// Activate engages a preemption for direction until now+duration, replacing
// any override already in place.
func (r *Registry) Activate(direction Lane, now time.Time, duration time.Duration) error {
	if !r.lanes.Contains(direction) {
		return ErrInvalidDirection
	}
	r.active = &Override{
		Direction:   direction,
		ActivatedAt: now,
		ExpiresAt:   now.Add(duration),
	}
	return nil
}

// IsActive reports whether an override exists and has not reached its expiry.
func (r *Registry) IsActive(now time.Time) bool {
	return r.active != nil && now.Before(r.active.ExpiresAt)
}

// Current returns the override direction, or None.
func (r *Registry) Current() Lane {
	if r.active == nil {
		return None
	}
	return r.active.Direction
}

// Expired reports whether an override is held but its expiry has been reached.
func (r *Registry) Expired(now time.Time) bool {
	return r.active != nil && !now.Before(r.active.ExpiresAt)
}

// Expire clears the override. Calling it with nothing active is a no-op.
func (r *Registry) Expire() {
	r.active = nil
}

// Snapshot returns a copy of the held override, if any.
func (r *Registry) Snapshot() (Override, bool) {
	if r.active == nil {
		return Override{}, false
	}
	return *r.active, true
}
