// Package engine runs the daemon's background collectors and folds their
// updates into the store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/multiworld/internal/daemon/collector"
	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

const (
	defaultRestartDelay = time.Second
	maxRestartDelay     = 30 * time.Second
	updateBuffer        = 100
)

// Engine supervises collectors. A collector that fails or panics is
// restarted with exponential backoff until the engine stops.
type Engine struct {
	store        *store.Store
	collectors   []collector.Collector
	logger       *logrus.Entry
	restartDelay time.Duration
}

// New creates an Engine applying updates to st.
func New(st *store.Store, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		store:        st,
		logger:       logger,
		restartDelay: defaultRestartDelay,
	}
}

// SetRestartDelay sets the first backoff step after a collector failure.
func (e *Engine) SetRestartDelay(d time.Duration) {
	if d > 0 {
		e.restartDelay = d
	}
}

// Register adds a collector. It must be called before Start.
func (e *Engine) Register(c collector.Collector) {
	e.collectors = append(e.collectors, c)
}

// Start runs every collector and blocks until ctx is cancelled and all of
// them have returned.
func (e *Engine) Start(ctx context.Context) {
	updates := make(chan store.Update, updateBuffer)
	var wg conc.WaitGroup

	wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-updates:
				e.store.ApplyUpdate(u)
			}
		}
	})

	for _, col := range e.collectors {
		wg.Go(func() { e.supervise(ctx, col, updates) })
	}

	wg.Wait()
}

func (e *Engine) supervise(ctx context.Context, col collector.Collector, updates chan<- store.Update) {
	log := e.logger.WithField("collector", col.Name())
	delay := e.restartDelay

	for {
		log.Debug("Starting collector")
		err := runOnce(ctx, col, e.store, updates)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Info("Collector stopped")
			return
		}

		log.WithError(err).WithField("retry_in", delay).Error("Collector failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRestartDelay)
	}
}

// runOnce turns a panic into an error so the supervisor can restart.
func runOnce(ctx context.Context, col collector.Collector, st *store.Store, updates chan<- store.Update) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() { err = col.Run(ctx, st, updates) })
	if r := catcher.Recovered(); r != nil {
		return fmt.Errorf("panic: %v", r.Value)
	}
	return err
}

// Store returns the engine's state store.
func (e *Engine) Store() *store.Store {
	return e.store
}
