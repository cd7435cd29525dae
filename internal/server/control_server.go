package server

import (
	"encoding/json"
	"net/http"
	"time"

	"brightpath/focus-tracker/internal/models"
	"brightpath/focus-tracker/internal/service"

	"go.uber.org/zap"
)

// ControlServer exposes a small localhost HTTP surface for the hosting
// UI: tracking status, manual session stop, and bio break controls.
type ControlServer struct {
	tracking *service.TrackingService
	logger   *zap.Logger
}

// NewControlServer creates a new control server.
func NewControlServer(tracking *service.TrackingService, logger *zap.Logger) *ControlServer {
	return &ControlServer{
		tracking: tracking,
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler.
func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.logger.Debug("HTTP request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)

	switch r.URL.Path {
	case "/api/v1/health":
		s.requireMethod(w, r, http.MethodGet, s.handleHealth)
	case "/api/v1/status":
		s.requireMethod(w, r, http.MethodGet, s.handleStatus)
	case "/api/v1/session/stop":
		s.requireMethod(w, r, http.MethodPost, s.handleSessionStop)
	case "/api/v1/break/start":
		s.requireMethod(w, r, http.MethodPost, s.handleBreakStart)
	case "/api/v1/break/end":
		s.requireMethod(w, r, http.MethodPost, s.handleBreakEnd)
	default:
		http.NotFound(w, r)
	}
}

func (s *ControlServer) requireMethod(w http.ResponseWriter, r *http.Request, method string, handler http.HandlerFunc) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}

// setCORSHeaders allows the hosting UI origin to reach the listener.
func (s *ControlServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.tracking.GetStatus())
}

func (s *ControlServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.tracking.StopSession(models.EndedByManual); err != nil {
		s.logger.Warn("Manual session stop failed", zap.Error(err))
		http.Error(w, "Failed to stop session", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *ControlServer) handleBreakStart(w http.ResponseWriter, r *http.Request) {
	s.tracking.BeginBreak()
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *ControlServer) handleBreakEnd(w http.ResponseWriter, r *http.Request) {
	s.tracking.EndBreak()
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *ControlServer) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}
