package collector

import (
	"context"
	"reflect"
	"time"

	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/grovetools/multiworld/pkg/models"
)

// SnapshotSource is anything that can report the current session.
type SnapshotSource interface {
	Snapshot() models.Session
}

// SessionCollector publishes session snapshots whenever they change.
type SessionCollector struct {
	source   SnapshotSource
	interval time.Duration
	trigger  chan struct{}
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector(source SnapshotSource, interval time.Duration) *SessionCollector {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &SessionCollector{
		source:   source,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Name returns the collector's name.
func (c *SessionCollector) Name() string { return "session" }

// Trigger requests an immediate scan without waiting for the next tick.
func (c *SessionCollector) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run starts the session monitoring loop.
func (c *SessionCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var last *models.Session
	scan := func() {
		snap := c.source.Snapshot()
		if last != nil && reflect.DeepEqual(*last, snap) {
			return
		}
		last = &snap

		select {
		case updates <- store.Update{Type: store.UpdateSession, Source: c.Name(), Payload: snap}:
		case <-ctx.Done():
		}
	}

	scan()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			scan()
		case <-c.trigger:
			scan()
		}
	}
}
