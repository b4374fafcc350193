// Package logic contains pure business logic for intersection signal control.
// This package has NO external I/O (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"strings"

	"github.com/samber/lo"
)

// ErrInvalidDirection is returned for a lane identifier that is not configured.
var ErrInvalidDirection = errors.New("invalid direction")

// Lane identifies one traffic approach to the intersection.
// The zero value means "no lane".
type Lane string

// None is the absent lane, used before the first arbitration decision.
const None Lane = ""

const (
	North Lane = "north"
	South Lane = "south"
	East  Lane = "east"
	West  Lane = "west"
)

// DefaultLanes is the reference four-way configuration in canonical order.
var DefaultLanes = Lanes{North, South, East, West}

// Lanes is the ordered set of configured lanes. The order is the canonical
// tie-break order used by every arbitration rule.
type Lanes []Lane

// Contains reports whether l is a configured lane.
func (ls Lanes) Contains(l Lane) bool {
	return l != None && lo.Contains(ls, l)
}

// Index returns the canonical position of l, or -1.
func (ls Lanes) Index(l Lane) int {
	return lo.IndexOf(ls, l)
}

// Parse converts a user-supplied identifier into a configured lane.
// Matching is case-insensitive and ignores surrounding whitespace.
func (ls Lanes) Parse(s string) (Lane, error) {
	l := Lane(strings.ToLower(strings.TrimSpace(s)))
	if !ls.Contains(l) {
		return None, ErrInvalidDirection
	}
	return l, nil
}

// Strings returns the lane names in canonical order.
func (ls Lanes) Strings() []string {
	return lo.Map(ls, func(l Lane, _ int) string { return string(l) })
}

// LightState is the signal shown to one lane.
type LightState string

const (
	Red    LightState = "red"
	Yellow LightState = "yellow"
	Green  LightState = "green"
)

// Lights maps every configured lane to its current light state.
type Lights map[Lane]LightState

// AllRed returns lights with every lane red.
func AllRed(lanes Lanes) Lights {
	lights := make(Lights, len(lanes))
	for _, l := range lanes {
		lights[l] = Red
	}
	return lights
}

// Clone returns an independent copy.
func (l Lights) Clone() Lights {
	out := make(Lights, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// NonRed returns the lanes currently showing yellow or green, in canonical order.
func (l Lights) NonRed(lanes Lanes) []Lane {
	return lo.Filter(lanes, func(lane Lane, _ int) bool {
		return l[lane] != Red
	})
}

// Valid reports whether at most one lane is yellow or green.
func (l Lights) Valid(lanes Lanes) bool {
	return len(l.NonRed(lanes)) <= 1
}

// Counts maps each lane to its most recent vehicle count.
type Counts map[Lane]int

// Clone returns an independent copy.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
