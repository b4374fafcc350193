// Package config loads the intersection configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/gpio"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/mqtt"
	"github.com/sweeney/signal-controller/internal/perception"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("module", "config")

// Intersection locates the junction.
type Intersection struct {
	ID        string  `yaml:"id"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Timing holds the signal timings.
type Timing struct {
	Tick     time.Duration `yaml:"tick"`
	Yellow   time.Duration `yaml:"yellow"`
	MinGreen time.Duration `yaml:"min_green"`
	MaxGreen time.Duration `yaml:"max_green"`
	Override time.Duration `yaml:"override"`
}

// Geofence bounds the emergency activation area.
type Geofence struct {
	RadiusMeters float64 `yaml:"radius_meters"`
}

// MQTT configures the broker connection. An empty broker disables MQTT.
type MQTT struct {
	Broker     string `yaml:"broker"`
	TopicBase  string `yaml:"topic_base,omitempty"` // defaults to traffic/junction/<id>
	ClientID   string `yaml:"client_id"`
	BufferSize int    `yaml:"buffer_size"`
}

// HTTP configures the status server. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Serial configures the loop-detector counter. An empty path disables it.
type Serial struct {
	Path                   string `yaml:"path"`
	perception.PortOptions `yaml:",inline"`
}

// GPIO configures the lamp driver.
type GPIO struct {
	Enabled bool                   `yaml:"enabled"`
	Chip    string                 `yaml:"chip"`
	Pins    map[string]gpio.PinSet `yaml:"pins,omitempty"` // defaults to gpio.DefaultLayout
}

// Config is the complete daemon configuration.
type Config struct {
	Intersection Intersection  `yaml:"intersection"`
	Lanes        []string      `yaml:"lanes"` // canonical tie-break order
	Timing       Timing        `yaml:"timing"`
	Geofence     Geofence      `yaml:"geofence"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	MQTT         MQTT          `yaml:"mqtt"`
	HTTP         HTTP          `yaml:"http"`
	Serial       Serial        `yaml:"serial"`
	GPIO         GPIO          `yaml:"gpio"`
}

// Default returns the reference deployment configuration.
func Default() Config {
	cc := controller.DefaultConfig()
	return Config{
		Intersection: Intersection{ID: "junction-1"},
		Lanes:        logic.DefaultLanes.Strings(),
		Timing: Timing{
			Tick:     cc.Tick,
			Yellow:   cc.Yellow,
			MinGreen: cc.MinGreen,
			MaxGreen: cc.MaxGreen,
			Override: cc.OverrideDuration,
		},
		Geofence:  Geofence{RadiusMeters: cc.ActivationRadius},
		Heartbeat: 15 * time.Minute,
		MQTT:      MQTT{ClientID: "signal-controller"},
		HTTP:      HTTP{Addr: ":8080"},
		GPIO:      GPIO{Chip: gpio.DefaultChip},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// rejected. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	log.Debugf("loaded %s", path)
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// LaneSet returns the configured lanes in canonical order.
func (c Config) LaneSet() logic.Lanes {
	return lo.Map(c.Lanes, func(s string, _ int) logic.Lane {
		return logic.Lane(normalize(s))
	})
}

// TopicBase returns the MQTT topic prefix.
func (c Config) TopicBase() string {
	if c.MQTT.TopicBase != "" {
		return c.MQTT.TopicBase
	}
	return mqtt.DefaultTopicBase(c.Intersection.ID)
}

// Layout returns the lamp wiring.
func (c Config) Layout() gpio.Layout {
	if len(c.GPIO.Pins) == 0 {
		return gpio.DefaultLayout
	}
	out := make(gpio.Layout, len(c.GPIO.Pins))
	for name, ps := range c.GPIO.Pins {
		out[logic.Lane(normalize(name))] = ps
	}
	return out
}

// ControllerConfig returns the control loop configuration.
func (c Config) ControllerConfig() controller.Config {
	return controller.Config{
		Lanes:            c.LaneSet(),
		Tick:             c.Timing.Tick,
		Yellow:           c.Timing.Yellow,
		MinGreen:         c.Timing.MinGreen,
		MaxGreen:         c.Timing.MaxGreen,
		OverrideDuration: c.Timing.Override,
		Location:         logic.Point{Latitude: c.Intersection.Latitude, Longitude: c.Intersection.Longitude},
		ActivationRadius: c.Geofence.RadiusMeters,
	}
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	lanes := c.LaneSet()
	if lo.Contains(lanes, logic.None) {
		errs = append(errs, errors.New("lanes: empty lane name"))
	}
	if dups := lo.FindDuplicates(lanes); len(dups) > 0 {
		errs = append(errs, fmt.Errorf("lanes: duplicate %v", dups))
	}
	if c.Intersection.ID == "" {
		errs = append(errs, errors.New("intersection: id is required"))
	}
	if c.Intersection.Latitude < -90 || c.Intersection.Latitude > 90 {
		errs = append(errs, fmt.Errorf("intersection: latitude %v out of range", c.Intersection.Latitude))
	}
	if c.Intersection.Longitude < -180 || c.Intersection.Longitude > 180 {
		errs = append(errs, fmt.Errorf("intersection: longitude %v out of range", c.Intersection.Longitude))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if err := c.ControllerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Serial.Path != "" {
		if _, err := c.Serial.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("serial: %w", err))
		}
	}
	if c.GPIO.Enabled {
		if err := c.Layout().Validate(lanes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
