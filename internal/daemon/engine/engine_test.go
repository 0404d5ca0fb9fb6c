package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/stretchr/testify/assert"
)

type fakeCollector struct {
	name string
	run  func(ctx context.Context, updates chan<- store.Update) error
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	return f.run(ctx, updates)
}

func TestEngineAppliesCollectorUpdates(t *testing.T) {
	st := store.New(10)
	eng := New(st, nil)
	eng.Register(&fakeCollector{name: "session", run: func(ctx context.Context, updates chan<- store.Update) error {
		updates <- store.Update{Type: store.UpdateSession, Payload: models.Session{ID: "s1", State: models.StatePreparing}}
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return st.Session().ID == "s1" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Same(t, st, eng.Store())
}

func TestEngineSurvivesPanickingCollector(t *testing.T) {
	st := store.New(10)
	eng := New(st, nil)
	eng.Register(&fakeCollector{name: "bad", run: func(ctx context.Context, updates chan<- store.Update) error {
		panic("boom")
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NotPanics(t, func() { eng.Start(ctx) })
}

func TestEngineRestartsFailedCollector(t *testing.T) {
	st := store.New(10)
	eng := New(st, nil)
	eng.SetRestartDelay(10 * time.Millisecond)

	var runs atomic.Int32
	eng.Register(&fakeCollector{name: "flaky", run: func(ctx context.Context, updates chan<- store.Update) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("boom")
		}
		updates <- store.Update{Type: store.UpdateWhitelist, Payload: 3}
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Start(ctx)

	assert.Eventually(t, func() bool { return st.Get().Whitelist == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), runs.Load())
}
