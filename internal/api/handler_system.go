package api

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// SystemHandler handles system-related HTTP endpoints.
type SystemHandler struct {
	version string
	checks  map[string]HealthCheck
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(version string, checks map[string]HealthCheck) *SystemHandler {
	return &SystemHandler{version: version, checks: checks}
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version"`
	Backends map[string]BackendHealth `json:"backends"`
}

// BackendHealth is the health of one dependency.
type BackendHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health handles GET /v1/health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.Check(r.Context())

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// Check runs every health check.
func (h *SystemHandler) Check(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Backends: make(map[string]BackendHealth, len(h.checks)),
	}
	for name, check := range h.checks {
		start := time.Now()
		err := check(ctx)
		bh := BackendHealth{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			bh.Status = "error"
			bh.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Backends[name] = bh
	}
	return resp
}
