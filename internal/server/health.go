package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// HealthCheck reports liveness and readiness. The server turns ready once
// the schema file has been applied.
type HealthCheck struct {
	logger *zap.Logger
	mu     sync.RWMutex
	ready  bool
	reason string
}

// NewHealthCheck creates a HealthCheck that is not yet ready.
func NewHealthCheck(logger *zap.Logger) *HealthCheck {
	return &HealthCheck{logger: logger, reason: "starting"}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SetReady flips readiness. reason is reported while not ready.
func (hc *HealthCheck) SetReady(ready bool, reason string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.ready != ready {
		hc.logger.Info("Readiness changed", zap.Bool("ready", ready), zap.String("reason", reason))
	}
	hc.ready = ready
	hc.reason = reason
}

// LivenessHandler handles GET /health requests.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hc.mu.RLock()
	ready, reason := hc.ready, hc.reason
	hc.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ReadinessResponse{Status: "ready"})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(ReadinessResponse{Status: "not_ready", Error: reason})
}
