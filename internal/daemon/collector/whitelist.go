package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/grovetools/multiworld/state"
	"github.com/sirupsen/logrus"
)

// WhitelistCollector reloads the whitelist when its file changes on disk.
type WhitelistCollector struct {
	whitelist *state.Whitelist
	debounce  time.Duration
	logger    *logrus.Entry
}

// NewWhitelistCollector creates a new WhitelistCollector.
func NewWhitelistCollector(wl *state.Whitelist, debounce time.Duration, logger *logrus.Entry) *WhitelistCollector {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WhitelistCollector{whitelist: wl, debounce: debounce, logger: logger}
}

// Name returns the collector's name.
func (c *WhitelistCollector) Name() string { return "whitelist" }

// Run watches the whitelist's directory. Editors often replace files rather
// than writing them in place, so the directory is watched, not the file.
func (c *WhitelistCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := filepath.Clean(c.whitelist.Path())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	publish := func() {
		select {
		case updates <- store.Update{Type: store.UpdateWhitelist, Source: c.Name(), Payload: len(c.whitelist.Entries())}:
		case <-ctx.Done():
		}
	}
	publish()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := c.whitelist.Reload(); err != nil {
			c.logger.WithError(err).Warn("Failed to reload whitelist")
			return
		}
		c.logger.WithField("entries", len(c.whitelist.Entries())).Info("Whitelist reloaded")
		publish()
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			c.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			// Debounce rapid writes
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(c.debounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Errorf("Watcher error: %v", err)
		}
	}
}
