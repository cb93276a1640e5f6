package api

import "time"

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatusResponse is returned by /status.
type StatusResponse struct {
	Connections    int                   `json:"connections"`
	ActiveSessions int                   `json:"active_sessions"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	LastSnapshot   *SnapshotSummary      `json:"last_snapshot,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// SnapshotSummary is the condensed persisted metrics view in /status.
type SnapshotSummary struct {
	Connections    int       `json:"connections"`
	ActiveSessions int       `json:"active_sessions"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
