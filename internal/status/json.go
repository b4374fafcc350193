package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Intersection  string     `json:"intersection"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Signal        SignalJSON `json:"signal"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// SignalJSON is the intersection view shared by the status page, the status
// query and pushed events. Times are unix seconds, zero when unset.
type SignalJSON struct {
	Session           string            `json:"session,omitempty"`
	Lights            map[string]string `json:"lights"`
	CurrentGreen      string            `json:"current_green"`
	LastGreenTime     int64             `json:"last_green_time"`
	LastSwitchTime    int64             `json:"last_switch_time"`
	VehicleCounts     map[string]int    `json:"vehicle_counts"`
	OverrideActive    bool              `json:"override_active"`
	OverrideDirection string            `json:"override_direction,omitempty"`
	OverrideExpiresAt int64             `json:"override_expires_at,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Switches      int `json:"switches"`
	ManualChanges int `json:"manual_changes"`
	Overrides     int `json:"overrides"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Lanes        []string `json:"lanes"`
	TickMs       int64    `json:"tick_ms"`
	YellowMs     int64    `json:"yellow_ms"`
	MinGreenMs   int64    `json:"min_green_ms"`
	MaxGreenMs   int64    `json:"max_green_ms"`
	OverrideMs   int64    `json:"override_ms"`
	HeartbeatMs  int64    `json:"heartbeat_ms"`
	RadiusMeters float64  `json:"radius_meters"`
	Broker       string   `json:"broker"`
	HTTPAddr     string   `json:"http_addr"`
}

// SignalStatusJSON answers the status query: lights and the last switch.
type SignalStatusJSON struct {
	Lights         map[string]string `json:"lights"`
	LastSwitchTime int64             `json:"last_switch_time"`
}

// EventJSON is a controller event as pushed to viewers and MQTT.
type EventJSON struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Step      string `json:"step,omitempty"`
	Cause     string `json:"cause,omitempty"`
	SignalJSON
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func lightsJSON(l logic.Lights) map[string]string {
	out := make(map[string]string, len(l))
	for lane, st := range l {
		out[string(lane)] = string(st)
	}
	return out
}

func countsJSON(c logic.Counts) map[string]int {
	out := make(map[string]int, len(c))
	for lane, n := range c {
		out[string(lane)] = n
	}
	return out
}

// BuildSignal converts a controller status to its JSON form.
func BuildSignal(s controller.Status) SignalJSON {
	sj := SignalJSON{
		Session:        s.Session,
		Lights:         lightsJSON(s.Lights),
		CurrentGreen:   string(s.CurrentGreen),
		LastGreenTime:  unixOrZero(s.LastGreenTime),
		LastSwitchTime: unixOrZero(s.LastSwitchTime),
		VehicleCounts:  countsJSON(s.VehicleCounts),
		OverrideActive: s.OverrideActive,
	}
	if s.OverrideActive {
		sj.OverrideDirection = string(s.OverrideDirection)
		sj.OverrideExpiresAt = unixOrZero(s.OverrideExpiresAt)
	}
	return sj
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Intersection:  snap.Config.Intersection,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Signal:        BuildSignal(snap.Signal),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Switches:      snap.Counts.Switches,
			ManualChanges: snap.Counts.ManualChanges,
			Overrides:     snap.Counts.Overrides,
		},
		Config: ConfigJSON{
			Lanes:        snap.Config.Lanes,
			TickMs:       snap.Config.TickMs,
			YellowMs:     snap.Config.YellowMs,
			MinGreenMs:   snap.Config.MinGreenMs,
			MaxGreenMs:   snap.Config.MaxGreenMs,
			OverrideMs:   snap.Config.OverrideMs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			RadiusMeters: snap.Config.RadiusMeters,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatSignalStatus returns the status query answer.
func FormatSignalStatus(snap Snapshot) []byte {
	data, _ := json.Marshal(SignalStatusJSON{
		Lights:         lightsJSON(snap.Signal.Lights),
		LastSwitchTime: unixOrZero(snap.Signal.LastSwitchTime),
	})
	return data
}

// BuildEvent converts a controller event to its JSON form.
func BuildEvent(e controller.Event) EventJSON {
	return EventJSON{
		Type:       string(e.Type),
		Timestamp:  e.Status.Timestamp.UTC().Format(time.RFC3339Nano),
		Step:       string(e.Status.Step),
		Cause:      e.Status.Cause,
		SignalJSON: BuildSignal(e.Status),
	}
}

// FormatEvent returns the JSON form of a controller event.
func FormatEvent(e controller.Event) ([]byte, error) {
	return json.Marshal(BuildEvent(e))
}
