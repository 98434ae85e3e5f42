package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"media-pipeline/internal/library"
	"media-pipeline/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`

	Library *library.Status `json:"library,omitempty"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

func (h *Handlers) pingDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.db.Ping(ctx)
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        h.ready.Load(),
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Database:     "ok",
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if h.library != nil {
		st := h.library.Status()
		response.Library = &st
	}

	status := http.StatusOK
	switch {
	case !response.Ready:
		response.Status = statusStarting
		status = http.StatusServiceUnavailable
	case h.pingDatabase(r.Context()) != nil:
		response.Database = "unreachable"
		response.Status = statusDegraded
		status = http.StatusServiceUnavailable
	case response.Library != nil && response.Library.LastError != "":
		response.Status = statusDegraded
	}

	writeJSON(w, status, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessCheck returns 200 only when startup finished and the database answers
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() || h.pingDatabase(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
