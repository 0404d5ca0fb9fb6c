// Package collector holds the daemon's background workers. Each one watches
// a source of state and turns its changes into store updates.
package collector

import (
	"context"

	"github.com/grovetools/multiworld/internal/daemon/store"
)

// Collector publishes one slice of daemon state.
type Collector interface {
	// Name identifies the collector in logs and in Update.Source.
	Name() string

	// Run blocks until ctx is cancelled. A non-nil error makes the engine
	// restart the collector after a backoff.
	Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error
}
