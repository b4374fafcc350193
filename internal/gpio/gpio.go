// Package gpio drives the signal head lamps with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/logic"
)

var log = logrus.WithField("module", "gpio")

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// SignalHead shows light states on physical lamps.
type SignalHead interface {
	// Apply sets every lane's lamps to match lights. Lanes missing from
	// lights are shown red.
	Apply(lights logic.Lights) error

	// Close drives every lane red and releases GPIO resources.
	Close() error
}

// PinSet holds the line offsets of one lane's lamps. Lamps are active high.
type PinSet struct {
	Red    int `yaml:"red"`
	Yellow int `yaml:"yellow"`
	Green  int `yaml:"green"`
}

// Layout maps each lane to its lamp lines.
type Layout map[logic.Lane]PinSet

// DefaultLayout is the reference four-way wiring (BCM numbering).
var DefaultLayout = Layout{
	logic.North: {Red: 2, Yellow: 3, Green: 4},
	logic.South: {Red: 17, Yellow: 27, Green: 22},
	logic.East:  {Red: 5, Yellow: 6, Green: 13},
	logic.West:  {Red: 19, Yellow: 26, Green: 21},
}

// Validate checks that every lane has lamps and no line is used twice.
func (ly Layout) Validate(lanes logic.Lanes) error {
	seen := make(map[int]string)
	for _, l := range lanes {
		ps, ok := ly[l]
		if !ok {
			return fmt.Errorf("gpio: no pins for lane %s", l)
		}
		for name, off := range map[string]int{"red": ps.Red, "yellow": ps.Yellow, "green": ps.Green} {
			if off < 0 {
				return fmt.Errorf("gpio: negative %s pin %d for lane %s", name, off, l)
			}
			id := fmt.Sprintf("%s %s", l, name)
			if prev, dup := seen[off]; dup {
				return fmt.Errorf("gpio: line %d used by both %s and %s", off, prev, id)
			}
			seen[off] = id
		}
	}
	for l := range ly {
		if !lanes.Contains(l) {
			return fmt.Errorf("gpio: pins for unknown lane %q", l)
		}
	}
	return nil
}

// Offsets returns the line offsets in request order: red, yellow, green for
// each lane in canonical order.
func (ly Layout) Offsets(lanes logic.Lanes) []int {
	out := make([]int, 0, 3*len(lanes))
	for _, l := range lanes {
		ps := ly[l]
		out = append(out, ps.Red, ps.Yellow, ps.Green)
	}
	return out
}

// Values returns the line values for lights, matching Offsets.
func Values(lights logic.Lights, lanes logic.Lanes) []int {
	out := make([]int, 0, 3*len(lanes))
	for _, l := range lanes {
		var r, y, g int
		switch lights[l] {
		case logic.Green:
			g = 1
		case logic.Yellow:
			y = 1
		default:
			r = 1
		}
		out = append(out, r, y, g)
	}
	return out
}

// Sink drives a SignalHead from controller events. Lamps are only written
// when the lights change.
type Sink struct {
	head SignalHead
	last logic.Lights
}

// NewSink creates a Sink for head.
func NewSink(head SignalHead) *Sink {
	return &Sink{head: head}
}

// Emit applies the lights carried by e. Hardware errors are logged; the next
// change retries.
func (s *Sink) Emit(e controller.Event) {
	if s.last != nil && sameLights(s.last, e.Status.Lights) {
		return
	}
	if err := s.head.Apply(e.Status.Lights); err != nil {
		log.Errorf("apply lights: %v", err)
		s.last = nil
		return
	}
	s.last = e.Status.Lights.Clone()
}

func sameLights(a, b logic.Lights) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
