// Package store implements the id-addressed event store backing the
// relay simulator.
package store

import (
	"errors"
	"sync"

	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

var (
	// ErrNilEvent is returned when a nil event is inserted.
	ErrNilEvent = errors.New("event cannot be nil")
	// ErrMissingID is returned when an event without an id is inserted.
	ErrMissingID = errors.New("event must have an id")
)

// Sink receives every event inserted while the store is live. The
// simulator installs its fan-out here; the sink runs on the inserting
// goroutine, after the store's own mutation completes.
type Sink func(ev *protocol.Event)

// Store is an append-only, id-addressed event collection. Insertion is
// idempotent on id: re-inserting an id overwrites the stored event in
// place rather than duplicating it. Scan order is insertion order.
//
// The store starts in seeding mode, in which insertions never reach
// the sink. GoLive switches it to live mode for the rest of the test.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	events  []*protocol.Event
	index   map[string]int // id -> position in events
	seeding bool
	sink    Sink
}

// New creates an empty store in seeding mode.
func New() *Store {
	return &Store{
		index:   make(map[string]int),
		seeding: true,
	}
}

// SetSink installs the live fan-out sink.
func (s *Store) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// GoLive ends seeding mode. Called when the first session appears;
// idempotent.
func (s *Store) GoLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeding = false
}

// Live reports whether the store has left seeding mode.
func (s *Store) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.seeding
}

// Seed inserts an event without ever notifying the sink, regardless of
// mode. Used for pre-test backlog population.
func (s *Store) Seed(ev *protocol.Event) error {
	_, err := s.put(ev)
	return err
}

// Insert adds the event and, when the store is live, hands it to the
// sink for fan-out. The sink call happens after the store mutation, on
// the caller's goroutine, so a frame handler finishes its fan-out
// before yielding.
func (s *Store) Insert(ev *protocol.Event) error {
	live, err := s.put(ev)
	if err != nil {
		return err
	}
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if live && sink != nil {
		sink(ev)
	}
	return nil
}

// put performs the mutation and reports whether the store was live at
// insertion time.
func (s *Store) put(ev *protocol.Event) (bool, error) {
	if ev == nil {
		return false, ErrNilEvent
	}
	if ev.ID == "" {
		return false, ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, exists := s.index[ev.ID]; exists {
		s.events[pos] = ev
	} else {
		s.index[ev.ID] = len(s.events)
		s.events = append(s.events, ev)
	}
	return !s.seeding, nil
}

// Get returns the event with the given id, if stored.
func (s *Store) Get(id string) (*protocol.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.events[pos], true
}

// Scan returns every stored event the predicate accepts, in insertion
// order. A nil predicate accepts everything.
func (s *Store) Scan(pred func(*protocol.Event) bool) []*protocol.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*protocol.Event, 0, len(s.events))
	for _, ev := range s.events {
		if pred == nil || pred(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// All returns a snapshot of every stored event in insertion order.
func (s *Store) All() []*protocol.Event {
	return s.Scan(nil)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Reset drops every event and re-arms seeding mode. The sink is kept;
// it belongs to the simulator's lifecycle, not the test's.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.index = make(map[string]int)
	s.seeding = true
}
