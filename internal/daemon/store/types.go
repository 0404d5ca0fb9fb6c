// Package store keeps the daemon's current view of the session and fans
// changes out to stream subscribers.
package store

import (
	"github.com/grovetools/multiworld/pkg/models"
)

// State is the snapshot served to new subscribers.
type State struct {
	Session models.Session `json:"session"`
	// Events is the replay buffer, oldest first.
	Events    []models.Event `json:"events"`
	Whitelist int            `json:"whitelist"`
}

// UpdateType selects how Update.Payload is interpreted.
type UpdateType string

const (
	// UpdateSession carries a models.Session snapshot.
	UpdateSession UpdateType = "session"
	// UpdateEvent carries one models.Event.
	UpdateEvent UpdateType = "event"
	// UpdateWhitelist carries the whitelist size as an int.
	UpdateWhitelist UpdateType = "whitelist"
)

// Update is one change flowing from a producer to the store.
type Update struct {
	Type UpdateType
	// Source names the producer: a collector or the bridge.
	Source  string
	Payload interface{}
}
