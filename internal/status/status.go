// Package status provides a thread-safe status tracker for the signal
// controller daemon. It is written by the control loop through the
// controller.Sink interface and read by HTTP handlers and the MQTT
// heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/signal"
)

// Config contains daemon configuration for display.
type Config struct {
	Intersection string
	Lanes        []string
	TickMs       int64
	YellowMs     int64
	MinGreenMs   int64
	MaxGreenMs   int64
	OverrideMs   int64
	HeartbeatMs  int64
	RadiusMeters float64
	Broker       string
	HTTPAddr     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Signal        controller.Status
	Ready         bool // at least one status has been received
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Emit records the status carried by e and counts notable events.
// It implements controller.Sink.
func (t *Tracker) Emit(e controller.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Signal = e.Status
	t.snap.Ready = true
	switch e.Type {
	case controller.EventTransition:
		if e.Status.Step == signal.StepGreen || e.Status.Step == signal.StepForced {
			t.snap.Counts.Switches++
		}
	case controller.EventManualChange:
		t.snap.Counts.ManualChanges++
	case controller.EventOverrideActivated:
		t.snap.Counts.Overrides++
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Signal.Lights = s.Signal.Lights.Clone()
	s.Signal.VehicleCounts = s.Signal.VehicleCounts.Clone()
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
