// Package signal implements the light transition protocol for one intersection.
//
// Every change of green lane, whatever triggered it, runs through
// Machine.Transition:
//
//	1. current lane yellow                  hold yellow
//	2. current lane red, target lane yellow hold yellow
//	3. target lane green
//
// All other lanes stay red throughout.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/logic"
)

var log = logrus.WithField("module", "signal")

// Step names the point in the protocol at which lights were emitted.
type Step string

const (
	StepClearing Step = "clearing" // outgoing lane yellow
	StepHandover Step = "handover" // outgoing lane red, incoming lane yellow
	StepGreen    Step = "green"    // incoming lane green
	StepForced   Step = "forced"   // override applied without protocol
)

// EmitFunc receives the state after each protocol step. It is called on the
// caller's goroutine, so emissions are observed in program order.
type EmitFunc func(st *logic.State, step Step)

// Machine drives a logic.State through light transitions. It owns no state of
// its own beyond timing configuration.
type Machine struct {
	yellow time.Duration
	clock  clock.Clock
	emit   EmitFunc
}

// NewMachine creates a Machine with a fixed yellow duration.
func NewMachine(yellow time.Duration, clk clock.Clock, emit EmitFunc) *Machine {
	if emit == nil {
		emit = func(*logic.State, Step) {}
	}
	return &Machine{yellow: yellow, clock: clk, emit: emit}
}

// Transition hands green from st.CurrentGreen to target. When there is no
// current green lane the clearing step is skipped. If ctx ends during a hold
// the protocol is abandoned where it stands; at that point at most one lane
// is yellow and none is green.
func (m *Machine) Transition(ctx context.Context, st *logic.State, target logic.Lane) error {
	if !st.Lanes.Contains(target) {
		return fmt.Errorf("transition to %q: %w", target, logic.ErrInvalidDirection)
	}
	from := st.CurrentGreen
	if from == target {
		return nil
	}

	if from != logic.None {
		st.Lights[from] = logic.Yellow
		m.emit(st, StepClearing)
		if err := m.clock.Sleep(ctx, m.yellow); err != nil {
			log.Warnf("transition %s->%s abandoned while clearing: %v", from, target, err)
			return err
		}
		st.Lights[from] = logic.Red
	}

	st.Lights[target] = logic.Yellow
	m.emit(st, StepHandover)
	if err := m.clock.Sleep(ctx, m.yellow); err != nil {
		log.Warnf("transition %s->%s abandoned during handover: %v", from, target, err)
		return err
	}

	now := m.clock.Now()
	st.Lights[target] = logic.Green
	st.CurrentGreen = target
	st.LastGreenTime = now
	st.LastSwitchTime = now
	m.emit(st, StepGreen)
	log.Infof("green %s -> %s", laneName(from), target)
	return nil
}

// Force puts lane on green and every other lane on red immediately. It is
// used only for emergency preemption. LastGreenTime is always reset;
// LastSwitchTime only when the lights actually changed.
func (m *Machine) Force(st *logic.State, lane logic.Lane, now time.Time) (changed bool, err error) {
	if !st.Lanes.Contains(lane) {
		return false, fmt.Errorf("force %q: %w", lane, logic.ErrInvalidDirection)
	}
	for _, l := range st.Lanes {
		want := logic.Red
		if l == lane {
			want = logic.Green
		}
		if st.Lights[l] != want {
			st.Lights[l] = want
			changed = true
		}
	}
	if st.CurrentGreen != lane {
		changed = true
	}
	st.CurrentGreen = lane
	st.LastGreenTime = now
	if changed {
		st.LastSwitchTime = now
		m.emit(st, StepForced)
		log.Infof("green forced to %s", lane)
	}
	return changed, nil
}

func laneName(l logic.Lane) string {
	if l == logic.None {
		return "none"
	}
	return string(l)
}
