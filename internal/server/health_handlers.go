package server

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Storage   string                 `json:"storage"`
	Users     int                    `json:"users"`
	Tracks    int                    `json:"tracks"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck reports database and storage connectivity. A database
// failure makes the service unhealthy; a storage failure only degrades it.
func (ms *MusicServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "connected",
		Storage:   "ok",
		Details:   make(map[string]interface{}),
	}

	if err := ms.db.Ping(ctx); err != nil {
		ms.logger.WithError(err).Error("Database health check failed")
		health.Status = "unhealthy"
		health.Database = "disconnected"
	} else {
		if users, err := ms.db.CountUsers(ctx); err == nil {
			health.Users = users
		}
		if tracks, err := ms.db.CountTracks(ctx); err == nil {
			health.Tracks = tracks
		}
	}

	if ms.backend == nil {
		health.Details["storage_backend"] = "inline"
	} else {
		health.Details["storage_backend"] = ms.backend.Name()
		if err := ms.backend.Ping(ctx); err != nil {
			ms.logger.WithError(err).Warn("Storage health check failed")
			health.Storage = "error"
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	ms.respondJSON(w, statusCode, health)
}
