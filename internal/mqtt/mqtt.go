// Package mqtt provides MQTT publishing and subscription with abstraction for
// testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/status"
)

var log = logrus.WithField("module", "mqtt")

// ErrUnknownCommand is returned for a command message with an unsupported type.
var ErrUnknownCommand = errors.New("unknown command")

// DefaultTopicBase returns the topic prefix for an intersection.
func DefaultTopicBase(intersection string) string {
	return "traffic/junction/" + intersection
}

// Topics are the MQTT topics used by one controller.
type Topics struct {
	Status  string // controller events, published
	System  string // lifecycle events and LWT, published
	Counts  string // perception counts, subscribed
	Command string // operator commands, subscribed
}

// NewTopics derives the topic set from a base prefix.
func NewTopics(base string) Topics {
	base = strings.TrimRight(base, "/")
	return Topics{
		Status:  base + "/status",
		System:  base + "/system",
		Counts:  base + "/counts",
		Command: base + "/command",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event controller.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers inbound messages on a topic to handler.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event controller.Event) ([]byte, error) {
	return status.FormatEvent(event)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is an operator message received on the command topic.
type Command struct {
	Type string `json:"type"`
	Lane string `json:"lane"`
}

// CommandManualChange asks for green on Lane.
const CommandManualChange = "manual_change"

// ParseCommand decodes a command payload.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type != CommandManualChange {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return cmd, nil
}

// ManualChanger accepts operator lane requests.
type ManualChanger interface {
	RequestManualChange(lane string) error
}

// CommandHandler returns a subscription handler that forwards manual change
// commands to c. Malformed or rejected commands are logged and dropped.
func CommandHandler(c ManualChanger) func([]byte) {
	return func(data []byte) {
		cmd, err := ParseCommand(data)
		if err != nil {
			log.Warnf("ignoring command: %v", err)
			return
		}
		if err := c.RequestManualChange(cmd.Lane); err != nil {
			log.Warnf("ignoring command: %v", err)
		}
	}
}

// Sink adapts a Publisher to controller.Sink. Transition, manual change and
// override events are always published; per-tick STATUS events only when the
// intersection view changed since the last one published. Override events
// are also published on the system topic.
type Sink struct {
	pub  Publisher
	last []byte
}

// NewSink creates a Sink publishing through p.
func NewSink(p Publisher) *Sink {
	return &Sink{pub: p}
}

// Emit publishes e. Publish errors are logged and swallowed.
func (s *Sink) Emit(e controller.Event) {
	if e.Type == controller.EventStatus {
		view, err := json.Marshal(status.BuildSignal(e.Status))
		if err == nil && string(view) == string(s.last) {
			return
		}
		s.last = view
	}
	if err := s.pub.Publish(e); err != nil {
		log.Warnf("publish %s: %v", e.Type, err)
	}

	switch e.Type {
	case controller.EventOverrideActivated, controller.EventOverrideExpired:
		payload, err := FormatPayload(e)
		if err != nil {
			log.Warnf("format %s: %v", e.Type, err)
			return
		}
		sys := SystemEvent{Timestamp: e.Status.Timestamp, Event: string(e.Type), RawPayload: payload}
		if err := s.pub.PublishSystem(sys); err != nil {
			log.Warnf("publish system %s: %v", e.Type, err)
		}
	}
}
