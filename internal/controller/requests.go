package controller

import (
	"fmt"

	"github.com/sweeney/signal-controller/internal/logic"
)

// EmergencyRequest is a position report from an emergency vehicle asking for
// preemption toward Direction.
type EmergencyRequest struct {
	Latitude  float64
	Longitude float64
	Direction string
}

// EmergencyResponse answers an EmergencyRequest.
type EmergencyResponse struct {
	Accepted        bool    // Direction named a configured lane
	OverrideEngaged bool    // the vehicle was inside the activation radius
	DistanceMeters  float64 // distance from the junction, when accepted
}

// RequestManualChange queues an operator request to give lane green on the
// next tick, replacing any request still pending. An unknown lane returns
// logic.ErrInvalidDirection and is otherwise ignored. Safe for concurrent use.
func (c *Controller) RequestManualChange(lane string) error {
	l, err := c.cfg.Lanes.Parse(lane)
	if err != nil {
		log.Debugf("ignoring manual request for %q: %v", lane, err)
		return fmt.Errorf("manual change %q: %w", lane, err)
	}
	if c.manual.Put(ManualRequest{Lane: l, At: c.clock.Now()}) {
		log.Debugf("manual request for %s superseded a pending request", l)
	}
	return nil
}

// RequestEmergency evaluates an emergency vehicle report against the
// junction geofence. When the vehicle is inside the activation radius the
// override is queued for the next tick, timed from now. Safe for concurrent
// use.
func (c *Controller) RequestEmergency(req EmergencyRequest) EmergencyResponse {
	l, err := c.cfg.Lanes.Parse(req.Direction)
	if err != nil {
		log.Warnf("emergency request rejected: direction %q: %v", req.Direction, err)
		return EmergencyResponse{}
	}
	distance := c.cfg.Location.Distance(logic.Point{Latitude: req.Latitude, Longitude: req.Longitude})
	resp := EmergencyResponse{Accepted: true, DistanceMeters: distance}
	if !logic.WithinRadius(distance, c.cfg.ActivationRadius) {
		log.Debugf("emergency vehicle for %s at %.1fm, outside %.1fm radius", l, distance, c.cfg.ActivationRadius)
		return resp
	}
	resp.OverrideEngaged = true
	if c.activation.Put(Activation{Direction: l, At: c.clock.Now(), Distance: distance}) {
		log.Debugf("emergency activation for %s superseded a pending activation", l)
	}
	return resp
}
