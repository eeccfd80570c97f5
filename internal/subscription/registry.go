// Package subscription tracks the open subscriptions of a single
// intercepted connection.
package subscription

import (
	"sync"

	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

// Subscription is a named, filter-bound live query scoped to one
// session. Its filters are OR'd when matching.
type Subscription struct {
	ID      string
	Filters protocol.Filters
}

// Registry is the per-session map of subscription id to filter set.
// A subscription is either open or absent; closing an absent id is a
// no-op and re-opening an open id replaces its filters. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Open registers or replaces the subscription and reports whether an
// open subscription with this id existed before (the "modify
// subscription" case).
func (r *Registry) Open(id string, filters protocol.Filters) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.subs[id]
	r.subs[id] = &Subscription{ID: id, Filters: filters}
	return replaced
}

// Close removes the subscription. Closing is terminal: a closed id
// receives no further deliveries until re-opened. Reports whether the
// id was open.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	return ok
}

// Get returns the open subscription with the given id, if any.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// Snapshot returns the currently open subscriptions. The slice is a
// copy; fan-out iterates it without holding the registry lock.
func (r *Registry) Snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Len returns the number of open subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CloseAll removes every subscription. Used at session teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]*Subscription)
}
