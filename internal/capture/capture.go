// Package capture records client-originated publishes and provides the
// blocking wait primitive tests synchronize on.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

// ErrWaitCancelled is returned by Wait when the log is reset or closed
// while the wait is pending, or when the caller's context ends.
var ErrWaitCancelled = errors.New("wait cancelled")

// WaitTimeoutError reports that no matching publish arrived in time.
// It carries what was awaited so a failing test is diagnosable.
type WaitTimeoutError struct {
	// Kind is the event kind that was awaited.
	Kind int
	// HasPredicate reports whether an extra predicate narrowed the wait.
	HasPredicate bool
	// Waited is the timeout that elapsed.
	Waited time.Duration
}

// Error implements the error interface.
func (e *WaitTimeoutError) Error() string {
	if e.HasPredicate {
		return fmt.Sprintf("timed out after %s waiting for published event of kind %d matching predicate", e.Waited, e.Kind)
	}
	return fmt.Sprintf("timed out after %s waiting for published event of kind %d", e.Waited, e.Kind)
}

// Predicate narrows a wait beyond the kind.
type Predicate func(ev *protocol.Event) bool

// waiter is a one-shot observer registered on the log.
type waiter struct {
	kind   int
	pred   Predicate
	result chan *protocol.Event // buffered, written at most once
	cancel chan struct{}        // closed on reset
}

func (w *waiter) matches(ev *protocol.Event) bool {
	if ev.Kind != w.kind {
		return false
	}
	return w.pred == nil || w.pred(ev)
}

// Log is the published-event log: an append-only record of every
// client-originated event, separate from seeded or injected
// provenance, plus the waiter set woken synchronously on append.
// It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	events  []*protocol.Event
	waiters map[*waiter]struct{}
}

// NewLog creates an empty published-event log.
func NewLog() *Log {
	return &Log{waiters: make(map[*waiter]struct{})}
}

// Append records a captured publish and wakes every pending waiter it
// satisfies. Waiters are one-shot: a woken waiter is removed.
func (l *Log) Append(ev *protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	for w := range l.waiters {
		if w.matches(ev) {
			w.result <- ev
			delete(l.waiters, w)
		}
	}
}

// Snapshot returns a copy of every captured event in capture order.
func (l *Log) Snapshot() []*protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*protocol.Event, len(l.events))
	copy(out, l.events)
	return out
}

// SnapshotByKind returns the captured events of one kind, in capture
// order.
func (l *Log) SnapshotByKind(kind int) []*protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*protocol.Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of captured events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Wait blocks until a publish of the given kind (and predicate, if
// non-nil) is captured, checking already-captured events first. It
// never polls: Append wakes it directly, with a timer racing it. On
// expiry it returns a *WaitTimeoutError; if the log is reset or ctx
// ends first it returns ErrWaitCancelled.
func (l *Log) Wait(ctx context.Context, kind int, timeout time.Duration, pred Predicate) (*protocol.Event, error) {
	w := &waiter{
		kind:   kind,
		pred:   pred,
		result: make(chan *protocol.Event, 1),
		cancel: make(chan struct{}),
	}

	l.mu.Lock()
	for _, ev := range l.events {
		if w.matches(ev) {
			l.mu.Unlock()
			return ev, nil
		}
	}
	l.waiters[w] = struct{}{}
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.result:
		return ev, nil
	case <-timer.C:
		l.remove(w)
		return nil, &WaitTimeoutError{Kind: kind, HasPredicate: pred != nil, Waited: timeout}
	case <-w.cancel:
		return nil, ErrWaitCancelled
	case <-ctx.Done():
		l.remove(w)
		return nil, fmt.Errorf("%w: %v", ErrWaitCancelled, ctx.Err())
	}
}

// remove unregisters a waiter that lost its race.
func (l *Log) remove(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.waiters, w)
}

// Reset drops every captured event and rejects every pending wait with
// ErrWaitCancelled.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	for w := range l.waiters {
		close(w.cancel)
	}
	l.waiters = make(map[*waiter]struct{})
}
