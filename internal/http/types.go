package http

import (
	"github.com/fyrsmithlabs/reqgate/internal/engine"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Branch       string                     `json:"branch,omitempty"`
	Requirements []engine.RequirementStatus `json:"requirements"`
}

// EndSessionResponse is the response body for POST /api/v1/sessions/:id/end.
// Report is null when session learning is disabled.
type EndSessionResponse struct {
	SessionID string           `json:"session_id"`
	Report    *learning.Report `json:"report"`
}

// ReloadResponse is the response body for POST /api/v1/reload.
type ReloadResponse struct {
	Sources      []string `json:"sources"`
	Requirements int      `json:"requirements"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
