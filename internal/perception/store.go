// Package perception adapts external vehicle-count producers into the density
// snapshots the controller arbitrates on.
package perception

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/logic"
)

var log = logrus.WithField("module", "perception")

// ErrNegativeCount is returned for a vehicle count below zero.
var ErrNegativeCount = errors.New("negative vehicle count")

// Store holds the most recent count reported for each lane. Producers call
// Update from any goroutine; the control loop calls Snapshot once per tick.
type Store struct {
	lanes logic.Lanes

	mu     sync.Mutex
	counts logic.Counts
	fresh  map[logic.Lane]bool
}

// NewStore creates a Store for the configured lanes with every count at zero.
func NewStore(lanes logic.Lanes) *Store {
	s := &Store{
		lanes:  lanes,
		counts: make(logic.Counts, len(lanes)),
		fresh:  make(map[logic.Lane]bool, len(lanes)),
	}
	for _, l := range lanes {
		s.counts[l] = 0
	}
	return s
}

// Update records a new sample for one lane.
func (s *Store) Update(lane string, count int) error {
	l, err := s.lanes.Parse(lane)
	if err != nil {
		return fmt.Errorf("lane %q: %w", lane, err)
	}
	if count < 0 {
		return fmt.Errorf("lane %s count %d: %w", l, count, ErrNegativeCount)
	}
	s.mu.Lock()
	s.counts[l] = count
	s.fresh[l] = true
	s.mu.Unlock()
	return nil
}

// UpdateAll records samples for several lanes. Valid entries are applied even
// when others are rejected; the returned error joins every rejection.
func (s *Store) UpdateAll(samples map[string]int) error {
	var errs []error
	for lane, count := range samples {
		if err := s.Update(lane, count); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the latest count for every lane and the lanes that have
// not reported since the previous snapshot. Gap lanes keep their last value.
func (s *Store) Snapshot() (logic.Counts, []logic.Lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var gaps []logic.Lane
	for _, l := range s.lanes {
		if !s.fresh[l] {
			gaps = append(gaps, l)
		}
		s.fresh[l] = false
	}
	return s.counts.Clone(), gaps
}
