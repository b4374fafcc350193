package perception

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned for a counts message carrying no samples.
var ErrEmptyPayload = errors.New("counts payload has no samples")

// CountsPayload is the JSON message a vision pipeline publishes. Either the
// single-lane form or the batch form may be used:
//
//	{"lane": "north", "vehicle_count": 5}
//	{"counts": {"north": 5, "south": 2}}
type CountsPayload struct {
	Lane         string         `json:"lane,omitempty"`
	VehicleCount *int           `json:"vehicle_count,omitempty"`
	Counts       map[string]int `json:"counts,omitempty"`
}

// ParseCountsPayload decodes a counts message into lane samples.
func ParseCountsPayload(data []byte) (map[string]int, error) {
	var p CountsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode counts payload: %w", err)
	}
	samples := make(map[string]int, len(p.Counts)+1)
	for lane, n := range p.Counts {
		samples[lane] = n
	}
	if p.Lane != "" {
		if p.VehicleCount == nil {
			return nil, fmt.Errorf("lane %q: missing vehicle_count", p.Lane)
		}
		samples[p.Lane] = *p.VehicleCount
	}
	if len(samples) == 0 {
		return nil, ErrEmptyPayload
	}
	return samples, nil
}

// HandlePayload decodes data and applies it to the store, logging rejects.
// It has the shape of an MQTT message handler.
func (s *Store) HandlePayload(data []byte) {
	samples, err := ParseCountsPayload(data)
	if err != nil {
		log.Warnf("dropping counts message: %v", err)
		return
	}
	if err := s.UpdateAll(samples); err != nil {
		log.Warnf("counts message partially rejected: %v", err)
	}
}
