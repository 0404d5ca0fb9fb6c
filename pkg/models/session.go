package models

import "time"

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateInactive   SessionState = "inactive"
	StatePreparing  SessionState = "preparing"
	StateGenerating SessionState = "generating"
	StateRunning    SessionState = "running"
)

// Active reports whether a session in this state occupies the engine.
func (s SessionState) Active() bool {
	return s == StatePreparing || s == StateGenerating || s == StateRunning
}

// Participant is one roster entry, keyed by Slot.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Slot        string     `json:"slot"`
	Ready       bool       `json:"ready"`
	UploadPath  string     `json:"upload_path,omitempty"`
	UploadedAt  *time.Time `json:"uploaded_at,omitempty"`
}

// StartOptions are the optional hosting parameters chosen by the host.
// Empty values are not passed to the server.
type StartOptions struct {
	Password      string `json:"password,omitempty"`
	ReleaseMode   string `json:"release_mode,omitempty"`
	CollectMode   string `json:"collect_mode,omitempty"`
	RemainingMode string `json:"remaining_mode,omitempty"`
}

// Session is a read-only snapshot of the engine's session.
type Session struct {
	ID            string        `json:"id,omitempty"`
	State         SessionState  `json:"state"`
	HostID        string        `json:"host_id,omitempty"`
	HostName      string        `json:"host_name,omitempty"`
	Participants  []Participant `json:"participants"`
	HasPassword   bool          `json:"has_password"`
	ReleaseMode   string        `json:"release_mode,omitempty"`
	CollectMode   string        `json:"collect_mode,omitempty"`
	RemainingMode string        `json:"remaining_mode,omitempty"`
	ServerPID     int           `json:"server_pid,omitempty"`
	ServerAddress string        `json:"server_address,omitempty"`
	Patches       []PatchFile   `json:"patches,omitempty"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// AllReady reports whether every participant has uploaded.
func (s Session) AllReady() bool {
	return len(s.Missing()) == 0 && len(s.Participants) > 0
}

// Missing returns the slots that have not uploaded yet.
func (s Session) Missing() []string {
	var missing []string
	for _, p := range s.Participants {
		if !p.Ready {
			missing = append(missing, p.Slot)
		}
	}
	return missing
}

// PatchFile is an extracted per-participant patch artifact.
type PatchFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}
