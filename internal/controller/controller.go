// Package controller runs the adaptive signal control loop for one
// intersection.
//
// A Controller is a single-writer state machine: only the goroutine running
// Run (or calling Tick) mutates the light state and the override registry.
// External collaborators hand it work through RequestManualChange and
// RequestEmergency, which only write single-slot mailboxes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/mailbox"
	"github.com/sweeney/signal-controller/internal/signal"
)

var log = logrus.WithField("module", "controller")

// Config contains the timing and geometry of one intersection.
type Config struct {
	Lanes            logic.Lanes
	Tick             time.Duration
	Yellow           time.Duration
	MinGreen         time.Duration
	MaxGreen         time.Duration
	OverrideDuration time.Duration
	Location         logic.Point
	ActivationRadius float64 // meters
}

// DefaultConfig returns the reference deployment timings.
func DefaultConfig() Config {
	return Config{
		Lanes:            logic.DefaultLanes,
		Tick:             500 * time.Millisecond,
		Yellow:           3 * time.Second,
		MinGreen:         10 * time.Second,
		MaxGreen:         30 * time.Second,
		OverrideDuration: 30 * time.Second,
		ActivationRadius: 5,
	}
}

// Validate reports configuration that the control loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.Lanes) == 0 {
		errs = append(errs, errors.New("no lanes configured"))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.Yellow <= 0 {
		errs = append(errs, fmt.Errorf("yellow must be positive, got %v", c.Yellow))
	}
	if c.MinGreen < 0 || c.MaxGreen <= 0 {
		errs = append(errs, fmt.Errorf("green bounds must be positive, got min=%v max=%v", c.MinGreen, c.MaxGreen))
	}
	if c.MinGreen > c.MaxGreen {
		errs = append(errs, fmt.Errorf("min green %v exceeds max green %v", c.MinGreen, c.MaxGreen))
	}
	if c.OverrideDuration <= 0 {
		errs = append(errs, fmt.Errorf("override duration must be positive, got %v", c.OverrideDuration))
	}
	if c.ActivationRadius < 0 {
		errs = append(errs, fmt.Errorf("activation radius must not be negative, got %v", c.ActivationRadius))
	}
	return errors.Join(errs...)
}

// Feed supplies density snapshots. Snapshot returns the latest count per lane
// and the lanes without a new sample since the previous call.
type Feed interface {
	Snapshot() (logic.Counts, []logic.Lane)
}

// ManualRequest is a pending operator request to move green to Lane.
type ManualRequest struct {
	Lane logic.Lane
	At   time.Time
}

// Activation is a pending emergency preemption that passed the geofence.
type Activation struct {
	Direction logic.Lane
	At        time.Time
	Distance  float64
}

// Controller arbitrates green time for one intersection.
type Controller struct {
	cfg      Config
	session  string
	clock    clock.Clock
	feed     Feed
	sink     Sink
	policy   logic.Policy
	registry *logic.Registry
	machine  *signal.Machine
	state    *logic.State
	cause    string

	manual     mailbox.Slot[ManualRequest]
	activation mailbox.Slot[Activation]
}

// New creates a Controller. The state starts with every lane red and no
// green lane.
func New(cfg Config, feed Feed, sink Sink, clk clock.Clock) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller config: %w", err)
	}
	if feed == nil {
		return nil, errors.New("controller: nil feed")
	}
	if sink == nil {
		sink = Fanout()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Controller{
		cfg:      cfg,
		session:  uuid.NewString(),
		clock:    clk,
		feed:     feed,
		sink:     sink,
		policy:   logic.Policy{Lanes: cfg.Lanes, MinGreen: cfg.MinGreen, MaxGreen: cfg.MaxGreen},
		registry: logic.NewRegistry(cfg.Lanes),
		state:    logic.NewState(cfg.Lanes),
	}
	c.machine = signal.NewMachine(cfg.Yellow, clk, func(_ *logic.State, step signal.Step) {
		c.emit(EventTransition, step)
	})
	return c, nil
}

// Session returns the identifier stamped on every event from this controller.
func (c *Controller) Session() string {
	return c.session
}

// State returns a copy of the controller state. It must only be called from
// the control goroutine or while the loop is not running.
func (c *Controller) State() logic.State {
	return c.state.Clone()
}

// Run drives the control loop, one Tick per value received on tick, until
// ctx is done. It always returns nil on cancellation.
func (c *Controller) Run(ctx context.Context, tick <-chan time.Time) error {
	log.Infof("session %s started: lanes=%v tick=%v yellow=%v min_green=%v max_green=%v",
		c.session, c.cfg.Lanes.Strings(), c.cfg.Tick, c.cfg.Yellow, c.cfg.MinGreen, c.cfg.MaxGreen)
	c.emit(EventStatus, "")

	for {
		select {
		case <-ctx.Done():
			log.Infof("session %s stopped: %v", c.session, ctx.Err())
			return nil
		case <-tick:
			if err := c.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					log.Infof("session %s stopped mid-transition", c.session)
					return nil
				}
				log.Warnf("tick: %v", err)
			}
		}
	}
}

// Tick runs one control iteration: drain mailboxes, apply or clear any
// emergency override, otherwise honor a manual request or consult the
// density policy, then emit a status snapshot. The only error it returns is
// the context's, when cancellation interrupts a light transition.
func (c *Controller) Tick(ctx context.Context) error {
	now := c.clock.Now()
	manual, hasManual := c.manual.Take()
	activated := c.drainActivation()

	if c.registry.Expired(now) {
		dir := c.registry.Current()
		c.registry.Expire()
		log.Infof("override for %s expired", dir)
		c.emit(EventOverrideExpired, "")
	}

	// Counts are reported during an override too; only arbitration is skipped.
	counts, gaps := c.feed.Snapshot()
	c.state.VehicleCounts = counts
	if len(gaps) > 0 {
		log.Debugf("no new samples for %v, reusing last counts", gaps)
	}

	if c.registry.IsActive(now) {
		if hasManual {
			log.Debugf("manual request for %s dropped: override active", manual.Lane)
		}
		c.cause = "override"
		if _, err := c.machine.Force(c.state, c.registry.Current(), now); err != nil {
			log.Errorf("force override: %v", err)
		}
		if activated {
			c.emit(EventOverrideActivated, "")
		}
		c.emit(EventStatus, "")
		return nil
	}

	if hasManual && c.acceptManual(manual, now) {
		c.cause = "manual"
		if err := c.machine.Transition(ctx, c.state, manual.Lane); err != nil {
			return err
		}
		c.emit(EventManualChange, "")
		c.emit(EventStatus, "")
		return nil
	}

	d := c.policy.Decide(counts, c.state.CurrentGreen, now, c.state.LastGreenTime)
	switch d.Action {
	case logic.Switch:
		log.Debugf("policy: switch to %s (%s) counts=%v", d.Lane, d.Reason, counts)
		c.cause = d.Reason
		if err := c.machine.Transition(ctx, c.state, d.Lane); err != nil {
			return err
		}
	case logic.Renew:
		log.Infof("max green reached on %s with no competing lane, renewing", c.state.CurrentGreen)
		c.state.LastGreenTime = now
	}

	c.emit(EventStatus, "")
	return nil
}

func (c *Controller) drainActivation() bool {
	act, ok := c.activation.Take()
	if !ok {
		return false
	}
	if err := c.registry.Activate(act.Direction, act.At, c.cfg.OverrideDuration); err != nil {
		log.Warnf("override activation for %q rejected: %v", act.Direction, err)
		return false
	}
	log.Infof("override engaged for %s (%.1fm from junction) until %s",
		act.Direction, act.Distance, act.At.Add(c.cfg.OverrideDuration).Format(time.RFC3339))
	return true
}

func (c *Controller) acceptManual(req ManualRequest, now time.Time) bool {
	current := c.state.CurrentGreen
	if req.Lane == current {
		log.Debugf("manual request for %s rejected: already green", req.Lane)
		return false
	}
	if current != logic.None {
		if elapsed := c.state.Elapsed(now); elapsed < c.cfg.MinGreen {
			log.Debugf("manual request for %s rejected: %s green for %v < min %v",
				req.Lane, current, elapsed.Truncate(time.Millisecond), c.cfg.MinGreen)
			return false
		}
	}
	log.Infof("manual change %s -> %s accepted", current, req.Lane)
	return true
}

func (c *Controller) emit(t EventType, step signal.Step) {
	c.sink.Emit(Event{Type: t, Status: c.status(step)})
}

func (c *Controller) status(step signal.Step) Status {
	now := c.clock.Now()
	st := c.state.Clone()
	s := Status{
		Session:        c.session,
		Timestamp:      now,
		Lights:         st.Lights,
		CurrentGreen:   st.CurrentGreen,
		LastGreenTime:  st.LastGreenTime,
		LastSwitchTime: st.LastSwitchTime,
		VehicleCounts:  st.VehicleCounts,
		Step:           step,
	}
	if step != "" {
		s.Cause = c.cause
	}
	if o, ok := c.registry.Snapshot(); ok && c.registry.IsActive(now) {
		s.OverrideActive = true
		s.OverrideDirection = o.Direction
		s.OverrideExpiresAt = o.ExpiresAt
	}
	return s
}
