package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Database   string            `json:"database"`
	Sessions   int               `json:"activeSessions"`
	Tracklists int               `json:"tracklistCount"`
	Payments   bool              `json:"payments"`
	Details    map[string]string `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (ms *StoreServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Database:   "ok",
		Tracklists: ms.catalog.Len(),
		Payments:   ms.config.PaymentsEnabled(),
		Details:    make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := ms.store.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
		ms.logger.WithError(err).Warn("Health check: database unreachable")
	} else if sessions, err := ms.sessions.ActiveSessions(ctx); err != nil {
		health.Details["sessions_error"] = err.Error()
	} else {
		health.Sessions = sessions
	}

	if ms.catalog.Len() == 0 {
		health.Details["catalog"] = "empty"
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	ms.respondJSON(w, status, health)
}
