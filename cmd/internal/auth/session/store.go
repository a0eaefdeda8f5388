package session

import (
	"sync"
	"time"
)

// Listener observes a transition. It runs inside Dispatch, after the new
// state is visible, and must not call Dispatch on the same Store.
type Listener func(ev Event, st State)

// Store is the single-writer container for one client's State.
//
// Dispatch calls are serialized, so reducer invocations never overlap and
// listeners see transitions in dispatch order. State may be read concurrently.
type Store struct {
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	state     State
	listeners []listenerEntry
	nextID    int

	now func() time.Time
}

type listenerEntry struct {
	id int
	fn Listener
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for LastUpdated stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store holding initial.
func NewStore(initial State, opts ...StoreOption) *Store {
	s := &Store{
		state: initial,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch applies ev through Reduce and returns the resulting state.
func (s *Store) Dispatch(ev Event) State {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	next := Reduce(s.state, ev, s.now())
	s.state = next
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(ev, next)
	}
	return next
}

// Subscribers returns the number of registered listeners.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Subscribe registers fn for every subsequent transition.
// The returned function removes the registration and is safe to call twice.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
