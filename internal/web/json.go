package web

import (
	"encoding/json"
	"net/http"

	"github.com/sweeney/signal-controller/internal/controller"
)

// EmergencyJSON is the body of POST /emergency and of an "emergency"
// WebSocket message.
type EmergencyJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Direction string  `json:"direction"`
}

func (e EmergencyJSON) request() controller.EmergencyRequest {
	return controller.EmergencyRequest{
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Direction: e.Direction,
	}
}

// EmergencyResponseJSON answers an emergency request.
type EmergencyResponseJSON struct {
	Type            string  `json:"type,omitempty"`
	Accepted        bool    `json:"accepted"`
	OverrideEngaged bool    `json:"override_engaged"`
	DistanceMeters  float64 `json:"distance_meters,omitempty"`
}

func emergencyResponse(r controller.EmergencyResponse, typ string) EmergencyResponseJSON {
	return EmergencyResponseJSON{
		Type:            typ,
		Accepted:        r.Accepted,
		OverrideEngaged: r.OverrideEngaged,
		DistanceMeters:  r.DistanceMeters,
	}
}

// ManualJSON is the body of POST /manual.
type ManualJSON struct {
	Lane string `json:"lane"`
}

// ManualResponseJSON acknowledges a queued manual request.
type ManualResponseJSON struct {
	Queued bool   `json:"queued"`
	Lane   string `json:"lane"`
}

// ErrorJSON reports a rejected request.
type ErrorJSON struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error"`
}

// Inbound WebSocket message types.
const (
	msgManualChange = "manual_change"
	msgEmergency    = "emergency"
	msgEmergencyAck = "emergency_response"
	msgError        = "error"
)

// ClientMessage is a message sent by a WebSocket viewer.
type ClientMessage struct {
	Type string `json:"type"`
	Lane string `json:"lane,omitempty"`
	EmergencyJSON
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorJSON{Error: msg})
}
