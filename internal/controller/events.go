package controller

import (
	"time"

	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/signal"
)

// EventType identifies why a status was emitted.
type EventType string

const (
	EventStatus            EventType = "STATUS"             // end of every tick
	EventTransition        EventType = "TRANSITION"         // each light protocol step
	EventManualChange      EventType = "MANUAL_CHANGE"      // honored manual request
	EventOverrideActivated EventType = "OVERRIDE_ACTIVATED" // emergency preemption engaged
	EventOverrideExpired   EventType = "OVERRIDE_EXPIRED"   // emergency preemption cleared
)

// Status is a point-in-time view of the controller. It is a value type and
// shares no maps with the live state.
type Status struct {
	Session           string
	Timestamp         time.Time
	Lights            logic.Lights
	CurrentGreen      logic.Lane
	LastGreenTime     time.Time
	LastSwitchTime    time.Time
	VehicleCounts     logic.Counts
	OverrideActive    bool
	OverrideDirection logic.Lane
	OverrideExpiresAt time.Time
	Step              signal.Step // set on TRANSITION events
	Cause             string      // what started the running transition
}

// Event is one status emission.
type Event struct {
	Type   EventType
	Status Status
}

// Sink consumes events. Emit is called synchronously on the control
// goroutine and must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

type fanout []Sink

func (f fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// Fanout returns a Sink that delivers each event to every non-nil sink in
// order.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Recorder is a Sink that keeps every event. Not safe for concurrent use.
type Recorder struct {
	Events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.Events = append(r.Events, e)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event, or false if none was recorded.
func (r *Recorder) Last() (Event, bool) {
	if len(r.Events) == 0 {
		return Event{}, false
	}
	return r.Events[len(r.Events)-1], true
}
