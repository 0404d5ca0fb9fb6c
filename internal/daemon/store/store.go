package store

import (
	"sync"

	"github.com/grovetools/multiworld/pkg/models"
)

// DefaultEventBuffer is the number of events retained for late subscribers.
const DefaultEventBuffer = 200

// Store is the in-memory state store for the daemon.
// It is thread-safe and supports pub/sub for real-time updates.
type Store struct {
	mu          sync.RWMutex
	state       *State
	seq         uint64
	capacity    int
	subscribers map[chan Update]struct{}
}

// New creates a new Store retaining up to capacity events.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultEventBuffer
	}
	return &Store{
		state: &State{
			Session: models.Session{State: models.StateInactive, Participants: []models.Participant{}},
		},
		capacity:    capacity,
		subscribers: make(map[chan Update]struct{}),
	}
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := *s.state
	st.Events = append([]models.Event(nil), s.state.Events...)
	return st
}

// Session returns the latest session snapshot.
func (s *Store) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Session
}

// EventsSince returns retained events with a sequence number above seq.
func (s *Store) EventsSince(seq uint64) []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Event
	for _, ev := range s.state.Events {
		if ev.Seq > seq {
			result = append(result, ev)
		}
	}
	return result
}

// ApplyUpdate modifies the state and notifies subscribers.
func (s *Store) ApplyUpdate(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Type {
	case UpdateSession:
		if sess, ok := u.Payload.(models.Session); ok {
			s.state.Session = sess
		}
	case UpdateEvent:
		ev, ok := u.Payload.(models.Event)
		if !ok {
			return
		}
		s.seq++
		ev.Seq = s.seq
		s.state.Events = append(s.state.Events, ev)
		if over := len(s.state.Events) - s.capacity; over > 0 {
			s.state.Events = append([]models.Event(nil), s.state.Events[over:]...)
		}
		u.Payload = ev
	case UpdateWhitelist:
		if n, ok := u.Payload.(int); ok {
			s.state.Whitelist = n
		}
	}

	// Broadcast to subscribers
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// Non-blocking send to prevent slow clients from stalling the daemon
		}
	}
}

// Deliver records a notification. It makes the store a bridge sink.
func (s *Store) Deliver(ev models.Event) {
	s.ApplyUpdate(Update{Type: UpdateEvent, Source: string(ev.Kind), Payload: ev})
}

// Subscribe creates a new subscription channel for state updates.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, 100) // Buffered
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}
