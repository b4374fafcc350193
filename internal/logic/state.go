package logic

import "time"

// State is the aggregate controller state for one control session.
// It is mutated only by the control loop; other components receive it by
// reference for the duration of a call and never keep their own copy.
type State struct {
	Lanes          Lanes
	Lights         Lights
	CurrentGreen   Lane // None only before the first arbitration decision
	LastGreenTime  time.Time
	LastSwitchTime time.Time
	VehicleCounts  Counts
}

// NewState creates the session start state: every lane red, no green lane.
func NewState(lanes Lanes) *State {
	counts := make(Counts, len(lanes))
	for _, l := range lanes {
		counts[l] = 0
	}
	return &State{
		Lanes:         lanes,
		Lights:        AllRed(lanes),
		VehicleCounts: counts,
	}
}

// Elapsed returns how long the current green lane has held green.
func (s *State) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.LastGreenTime)
}

// Clone returns a deep copy suitable for handing to readers.
func (s *State) Clone() State {
	c := *s
	c.Lights = s.Lights.Clone()
	c.VehicleCounts = s.VehicleCounts.Clone()
	return c
}
