package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu   sync.Mutex
	snap models.Session
}

func (f *fakeSource) Snapshot() models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(s models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

func receive(t *testing.T, updates <-chan store.Update) store.Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("no update received")
		return store.Update{}
	}
}

func TestSessionCollectorPublishesChanges(t *testing.T) {
	src := &fakeSource{snap: models.Session{State: models.StateInactive}}
	c := NewSessionCollector(src, time.Hour)
	assert.Equal(t, "session", c.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan store.Update, 10)
	go c.Run(ctx, store.New(10), updates)

	u := receive(t, updates)
	assert.Equal(t, store.UpdateSession, u.Type)
	assert.Equal(t, models.StateInactive, u.Payload.(models.Session).State)

	// Unchanged snapshots are not republished.
	c.Trigger()
	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(100 * time.Millisecond):
	}

	src.set(models.Session{ID: "s1", State: models.StatePreparing})
	c.Trigger()
	u = receive(t, updates)
	assert.Equal(t, "s1", u.Payload.(models.Session).ID)
}

func TestWhitelistCollectorReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.yml")
	wl, err := state.LoadWhitelist(path)
	require.NoError(t, err)

	c := NewWhitelistCollector(wl, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan store.Update, 10)
	go c.Run(ctx, store.New(10), updates)

	u := receive(t, updates)
	assert.Equal(t, store.UpdateWhitelist, u.Type)
	assert.Equal(t, 0, u.Payload)

	require.NoError(t, os.WriteFile(path, []byte("- \"111\"\n- \"222\"\n"), 0644))
	u = receive(t, updates)
	assert.Equal(t, 2, u.Payload)
	assert.True(t, wl.Contains("222"))

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yml"), []byte("x"), 0644))
	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(150 * time.Millisecond):
	}
}
