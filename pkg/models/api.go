package models

import "time"

// Request headers carrying the caller's identity, as resolved by the
// front-end.
const (
	HeaderUserID   = "X-Multiworld-User"
	HeaderUserName = "X-Multiworld-Name"
)

// AddParticipantRequest adds a roster entry. Slot defaults to DisplayName.
type AddParticipantRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Slot        string `json:"slot,omitempty"`
}

// UploadResponse reports the outcome of an accepted upload.
type UploadResponse struct {
	Slot     string `json:"slot"`
	AllReady bool   `json:"all_ready"`
	Message  string `json:"message"`
}

// WhitelistRequest grants a user the right to create sessions.
type WhitelistRequest struct {
	UserID string `json:"user_id"`
}

// MessageResponse carries a display-ready confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	PID     int           `json:"pid"`
	Uptime  time.Duration `json:"uptime"`
	State   SessionState  `json:"state"`
}

// StreamUpdate is one message on the /api/stream and /api/ws event streams.
type StreamUpdate struct {
	// UpdateType is "initial", "session", "event" or "whitelist".
	UpdateType string   `json:"update_type"`
	Source     string   `json:"source,omitempty"`
	Session    *Session `json:"session,omitempty"`
	Event      *Event   `json:"event,omitempty"`
	Whitelist  int      `json:"whitelist,omitempty"`
}

// RunningConfig is the configuration the daemon is actually using, exposed
// via /api/config so clients can verify it.
type RunningConfig struct {
	Version          string        `json:"version"`
	PID              int           `json:"pid"`
	StartedAt        time.Time     `json:"started_at"`
	ConfigFile       string        `json:"config_file,omitempty"`
	ServerHost       string        `json:"server_host"`
	ServerPort       int           `json:"server_port"`
	PublicAddress    string        `json:"public_address,omitempty"`
	Passthrough      string        `json:"passthrough"`
	SessionLog       string        `json:"session_log"`
	SnapshotInterval time.Duration `json:"snapshot_interval"`
}
