package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	policyStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	testPolicy  = Policy{Lanes: DefaultLanes, MinGreen: 10 * time.Second, MaxGreen: 30 * time.Second}
)

func counts(n, s, e, w int) Counts {
	return Counts{North: n, South: s, East: e, West: w}
}

func TestDecideInitialPicksDensest(t *testing.T) {
	d := testPolicy.Decide(counts(5, 2, 0, 0), None, policyStart, time.Time{})
	assert.Equal(t, Switch, d.Action)
	assert.Equal(t, North, d.Lane)
}

func TestDecideInitialTieBreakCanonical(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		want   Lane
	}{
		{"all zero", counts(0, 0, 0, 0), North},
		{"south east tie", counts(1, 4, 4, 0), South},
		{"east west tie", counts(0, 0, 3, 3), East},
		{"west alone", counts(0, 0, 0, 1), West},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testPolicy.Decide(tt.counts, None, policyStart, time.Time{})
			assert.Equal(t, Switch, d.Action)
			assert.Equal(t, tt.want, d.Lane)
		})
	}
}

func TestDecideMinGreenFloorDominates(t *testing.T) {
	// N green for 4s, S density far above N.
	now := policyStart.Add(4 * time.Second)
	d := testPolicy.Decide(counts(1, 20, 0, 0), North, now, policyStart)
	assert.Equal(t, Stay, d.Action)
}

func TestDecideMinGreenFloorEvenPastMax(t *testing.T) {
	// A misconfigured floor above the ceiling still wins.
	p := Policy{Lanes: DefaultLanes, MinGreen: 40 * time.Second, MaxGreen: 30 * time.Second}
	d := p.Decide(counts(0, 9, 0, 0), North, policyStart.Add(35*time.Second), policyStart)
	assert.Equal(t, Stay, d.Action)
}

func TestDecideMaxGreenCompulsorySwitch(t *testing.T) {
	now := policyStart.Add(31 * time.Second)
	d := testPolicy.Decide(counts(3, 7, 1, 0), North, now, policyStart)
	assert.Equal(t, Switch, d.Action)
	assert.Equal(t, South, d.Lane)
}

func TestDecideMaxGreenWhenCurrentIsDensest(t *testing.T) {
	// N is still the busiest lane but has used its full period;
	// the second-most-dense lane gets served.
	now := policyStart.Add(30 * time.Second)
	d := testPolicy.Decide(counts(9, 2, 5, 5), North, now, policyStart)
	assert.Equal(t, Switch, d.Action)
	assert.Equal(t, East, d.Lane)
}

func TestDecideMaxGreenAllOthersEmpty(t *testing.T) {
	now := policyStart.Add(30 * time.Second)
	d := testPolicy.Decide(counts(0, 4, 0, 0), South, now, policyStart)
	assert.Equal(t, Switch, d.Action)
	assert.Equal(t, North, d.Lane, "ties among empty lanes go canonical")
}

func TestDecideMaxGreenSingleLaneRenews(t *testing.T) {
	p := Policy{Lanes: Lanes{North}, MinGreen: 10 * time.Second, MaxGreen: 30 * time.Second}
	d := p.Decide(Counts{North: 4}, North, policyStart.Add(31*time.Second), policyStart)
	assert.Equal(t, Renew, d.Action)
	assert.Equal(t, North, d.Lane)
}

func TestDecideGreedyDensity(t *testing.T) {
	now := policyStart.Add(15 * time.Second)

	tests := []struct {
		name   string
		counts Counts
		action Action
		lane   Lane
	}{
		{"current busiest", counts(8, 2, 3, 1), Stay, None},
		{"equal is not strictly greater", counts(5, 5, 0, 0), Stay, None},
		{"one busier lane", counts(2, 1, 6, 0), Switch, East},
		{"busiest of several busier", counts(2, 4, 6, 5), Switch, East},
		{"busier tie goes canonical", counts(2, 7, 0, 7), Switch, South},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testPolicy.Decide(tt.counts, North, now, policyStart)
			assert.Equal(t, tt.action, d.Action)
			if tt.action == Switch {
				assert.Equal(t, tt.lane, d.Lane)
			}
		})
	}
}

func TestDecideExactlyAtMinGreen(t *testing.T) {
	now := policyStart.Add(10 * time.Second)
	d := testPolicy.Decide(counts(1, 3, 0, 0), North, now, policyStart)
	assert.Equal(t, Switch, d.Action)
	assert.Equal(t, South, d.Lane)
}

func TestDecideNoLanes(t *testing.T) {
	d := Policy{}.Decide(Counts{}, None, policyStart, time.Time{})
	assert.Equal(t, Stay, d.Action)
}

func TestDecideMissingCountsTreatedAsZero(t *testing.T) {
	d := testPolicy.Decide(Counts{West: 2}, None, policyStart, time.Time{})
	assert.Equal(t, West, d.Lane)
}

func TestRank(t *testing.T) {
	assert.Equal(t, []Lane{South, North, East, West}, testPolicy.Rank(counts(3, 7, 1, 0)))
	assert.Equal(t, []Lane{East, West, North, South}, testPolicy.Rank(counts(0, 0, 2, 2)))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "stay", Stay.String())
	assert.Equal(t, "switch", Switch.String())
	assert.Equal(t, "renew", Renew.String())
	assert.Equal(t, "action(9)", Action(9).String())
}
