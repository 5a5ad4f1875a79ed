// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinova/hookbridge/internal/version"
)

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Version
	return out, nil
}

// LivezOutput represents the liveness probe response.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Livez is the Kubernetes liveness probe.
func Livez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// ReadyzHandler checks readiness including database connectivity.
type ReadyzHandler struct {
	db *sql.DB
}

// NewReadyzHandler creates a readiness probe handler.
func NewReadyzHandler(db *sql.DB) *ReadyzHandler {
	return &ReadyzHandler{db: db}
}

// ReadyzOutput represents the readiness probe response.
type ReadyzOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Readyz is the Kubernetes readiness probe.
func (h *ReadyzHandler) Readyz(ctx context.Context, input *struct{}) (*ReadyzOutput, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return nil, huma.Error503ServiceUnavailable("database not ready")
	}
	out := &ReadyzOutput{}
	out.Body.Status = "ok"
	return out, nil
}
