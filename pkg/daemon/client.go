// Package daemon provides a client for the multiworld daemon's API.
package daemon

import (
	"context"
	"io"

	"github.com/grovetools/multiworld/pkg/models"
)

// Identity is the user a client acts for. It is sent with every request.
type Identity struct {
	ID   string
	Name string
}

// Client defines the interface for interacting with the multiworld daemon.
type Client interface {
	// Health reports daemon liveness and the current session state.
	Health(ctx context.Context) (*models.HealthResponse, error)

	// RunningConfig returns the configuration the daemon is using.
	RunningConfig(ctx context.Context) (*models.RunningConfig, error)

	// Session returns the current session snapshot.
	Session(ctx context.Context) (*models.Session, error)

	// CreateSession starts preparing a session hosted by the client's identity.
	CreateSession(ctx context.Context) (*models.Session, error)

	// AddParticipant adds a roster entry. Host only.
	AddParticipant(ctx context.Context, req models.AddParticipantRequest) (*models.Session, error)

	// Upload sends a player settings file.
	Upload(ctx context.Context, filename string, r io.Reader) (*models.UploadResponse, error)

	// Start requests generation and hosting. The result arrives on the event stream.
	Start(ctx context.Context, opts models.StartOptions) (*models.MessageResponse, error)

	// Cancel ends the session. Host only.
	Cancel(ctx context.Context) (*models.MessageResponse, error)

	// Patches lists the extracted patch files.
	Patches(ctx context.Context) ([]models.PatchFile, error)

	// DownloadPatch copies a patch file to w and returns the bytes written.
	DownloadPatch(ctx context.Context, name string, w io.Writer) (int64, error)

	// Whitelist grants userID the right to create sessions. Owners only.
	Whitelist(ctx context.Context, userID string) (*models.MessageResponse, error)

	// StreamEvents subscribes to updates via Server-Sent Events, replaying
	// retained events after since.
	StreamEvents(ctx context.Context, since uint64) (<-chan models.StreamUpdate, error)

	// StreamWebSocket subscribes to the same updates over a websocket.
	StreamWebSocket(ctx context.Context, since uint64) (<-chan models.StreamUpdate, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}
