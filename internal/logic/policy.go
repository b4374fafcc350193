package logic

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Action is the kind of arbitration outcome.
type Action int

const (
	// Stay keeps the current green lane.
	Stay Action = iota
	// Switch moves green to Decision.Lane through the yellow protocol.
	Switch
	// Renew keeps the current green lane but starts a fresh green period.
	Renew
)

func (a Action) String() string {
	switch a {
	case Stay:
		return "stay"
	case Switch:
		return "switch"
	case Renew:
		return "renew"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is the result of one arbitration round.
type Decision struct {
	Action Action
	Lane   Lane // target lane for Switch
	Reason string
}

func stay(reason string) Decision { return Decision{Action: Stay, Reason: reason} }

func switchTo(l Lane, reason string) Decision {
	return Decision{Action: Switch, Lane: l, Reason: reason}
}

// Policy is the density arbitration policy. Rules are evaluated in order:
// the green-time floor dominates the green-time ceiling, which dominates
// greedy density following.
type Policy struct {
	Lanes    Lanes
	MinGreen time.Duration
	MaxGreen time.Duration
}

// Decide returns the next arbitration decision. It is a pure function of its
// arguments.
func (p Policy) Decide(counts Counts, current Lane, now, lastGreen time.Time) Decision {
	if len(p.Lanes) == 0 {
		return stay("no lanes")
	}

	if current == None {
		return switchTo(p.densest(counts, p.Lanes), "initial")
	}

	elapsed := now.Sub(lastGreen)
	if elapsed < p.MinGreen {
		return stay("min green")
	}

	others := lo.Filter(p.Lanes, func(l Lane, _ int) bool { return l != current })

	if elapsed >= p.MaxGreen {
		if len(others) == 0 {
			return Decision{Action: Renew, Lane: current, Reason: "max green"}
		}
		return switchTo(p.densest(counts, others), "max green")
	}

	busier := lo.Filter(others, func(l Lane, _ int) bool { return counts[l] > counts[current] })
	if len(busier) > 0 {
		return switchTo(p.densest(counts, busier), "density")
	}
	return stay("density")
}

// densest returns the lane with the highest count among candidates. Ties go
// to the lane that comes first in canonical order, so candidates must be a
// subsequence of p.Lanes.
func (p Policy) densest(counts Counts, candidates []Lane) Lane {
	return lo.MaxBy(candidates, func(a, b Lane) bool {
		return counts[a] > counts[b]
	})
}

// Rank returns the lanes ordered by descending count, ties in canonical order.
func (p Policy) Rank(counts Counts) []Lane {
	ranked := make([]Lane, 0, len(p.Lanes))
	remaining := append(Lanes(nil), p.Lanes...)
	for len(remaining) > 0 {
		top := p.densest(counts, remaining)
		ranked = append(ranked, top)
		remaining = lo.Without(remaining, top)
	}
	return ranked
}
