//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/warthog618/go-gpiocdev"
)

// RealHead drives lamps on actual hardware using the Linux GPIO character
// device. All lamp lines are held in one request so a change is applied in a
// single write.
type RealHead struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	lanes logic.Lanes
}

// NewRealHead requests the lamp lines on chip as outputs, initially all red.
func NewRealHead(chip string, lanes logic.Lanes, layout Layout) (*RealHead, error) {
	if err := layout.Validate(lanes); err != nil {
		return nil, err
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	offsets := layout.Offsets(lanes)
	initial := Values(logic.AllRed(lanes), lanes)
	lines, err := c.RequestLines(offsets, gpiocdev.AsOutput(initial...), gpiocdev.WithConsumer("signal-controller"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request lamp lines %v: %w", offsets, err)
	}
	log.Infof("lamp lines %v on %s ready", offsets, chip)

	return &RealHead{chip: c, lines: lines, lanes: lanes}, nil
}

// Apply writes lights to the lamps.
func (h *RealHead) Apply(lights logic.Lights) error {
	if err := h.lines.SetValues(Values(lights, h.lanes)); err != nil {
		return fmt.Errorf("set lamp lines: %w", err)
	}
	return nil
}

// Close drives every lane red, then releases the lines and the chip.
func (h *RealHead) Close() error {
	var errs []error
	if h.lines != nil {
		if err := h.lines.SetValues(Values(logic.AllRed(h.lanes), h.lanes)); err != nil {
			errs = append(errs, fmt.Errorf("set all red: %w", err))
		}
		if err := h.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lines: %w", err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
