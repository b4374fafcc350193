// Package web provides the HTTP and WebSocket surface of the signal
// controller daemon: the status page, the status query, the emergency
// and manual endpoints and live viewer sessions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/status"
)

var log = logrus.WithField("module", "web")

// Commander accepts operator and emergency requests. *controller.Controller
// implements it.
type Commander interface {
	RequestManualChange(lane string) error
	RequestEmergency(req controller.EmergencyRequest) controller.EmergencyResponse
}

// Server serves the status page and request endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	cmd        Commander
	hub        *Hub
}

// New creates a Server that reads state from tracker, forwards requests to
// cmd and streams events to viewers registered with hub.
func New(addr string, tracker *status.Tracker, cmd Commander, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(0)
	}
	s := &Server{tracker: tracker, cmd: cmd, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/signal_status", s.handleSignalStatus)
	mux.HandleFunc("/emergency", s.handleEmergency)
	mux.HandleFunc("/manual", s.handleManual)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and ends viewer sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSignalStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatSignalStatus(snap))
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req EmergencyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp := s.cmd.RequestEmergency(req.request())
	writeJSON(w, http.StatusOK, emergencyResponse(resp, ""))
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ManualJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.cmd.RequestManualChange(req.Lane); err != nil {
		// An unknown lane is dropped like a malformed operator command, not
		// answered as a protocol error.
		if errors.Is(err, logic.ErrInvalidDirection) {
			writeJSON(w, http.StatusAccepted, ManualResponseJSON{Queued: false, Lane: req.Lane})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ManualResponseJSON{Queued: true, Lane: req.Lane})
}
