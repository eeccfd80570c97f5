// Package simulator wires the store, subscription registries, capture
// log and transport into the relay test double itself.
package simulator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Pleb5/flotilla-budabit-sub001/internal/capture"
	"github.com/Pleb5/flotilla-budabit-sub001/internal/store"
	"github.com/Pleb5/flotilla-budabit-sub001/internal/transport"
	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

// Config configures a Simulator.
type Config struct {
	// InterceptPatterns are the relay URL patterns the simulator
	// answers for: exact "host:port", bare "host", "*.suffix", or "*".
	InterceptPatterns []string
	// Passthrough proxies unmatched URLs to the real relay instead of
	// refusing them with a NOTICE.
	Passthrough bool
	// Verbose enables debug-level logging of every frame.
	Verbose bool
	// Logger receives diagnostics. Nil means discard unless Verbose is
	// set, in which case the default logger is used.
	Logger *slog.Logger
}

// SubscribeHook observes every subscription open, after the registry
// mutation and backlog replay complete.
//
// Hooks run while the simulator's frame mutex is held. A hook must not
// call back into HandleFrame, InjectEvents, SeedEvents or Reset on the
// same goroutine; doing so deadlocks. Record what you need and assert
// from the test goroutine instead.
type SubscribeHook func(sess *transport.Session, subID string, filters protocol.Filters)

// PublishHook observes every captured client publish, after the store
// insert, fan-out and capture complete. The same reentrancy
// restriction as SubscribeHook applies.
type PublishHook func(ev *protocol.Event)

// Simulator is the relay test double: it owns the event store, the
// published-event log and every intercepted session, and implements
// the relay side of the wire protocol.
//
// Frame handling runs to completion under one mutex: a REQ, EVENT or
// CLOSE finishes its store mutation and all resulting fan-out before
// the next frame is processed, so no handler observes a
// partially-updated registry or store.
type Simulator struct {
	cfg     Config
	logger  *slog.Logger
	matcher *transport.Matcher
	metrics *metrics

	store     *store.Store
	published *capture.Log

	// mu serializes frame handling, injection and reset.
	mu sync.Mutex

	// sessMu guards the session map only, so session close hooks can
	// unregister while mu is held elsewhere.
	sessMu   sync.RWMutex
	sessions map[string]*transport.Session

	hookMu      sync.RWMutex
	onSubscribe SubscribeHook
	onPublish   PublishHook
}

// New creates a Simulator for the given configuration.
func New(cfg Config) *Simulator {
	logger := cfg.Logger
	if logger == nil {
		if cfg.Verbose {
			logger = slog.Default()
		} else {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
	}
	s := &Simulator{
		cfg:       cfg,
		logger:    logger,
		matcher:   transport.NewMatcher(cfg.InterceptPatterns),
		metrics:   newMetrics(),
		store:     store.New(),
		published: capture.NewLog(),
		sessions:  make(map[string]*transport.Session),
	}
	// The sink runs on the inserting goroutine while mu is held, so
	// fan-out completes inside the same frame handling step.
	s.store.SetSink(s.fanOutLocked)
	return s
}

// Intercepts reports whether the simulator answers for the relay URL.
func (s *Simulator) Intercepts(relayURL string) bool {
	return s.matcher.Match(relayURL)
}

// Handler returns the HTTP handler serving intercepted WebSocket
// connections (and passthrough proxying, when configured).
func (s *Simulator) Handler() http.Handler {
	return transport.NewWebSocketServer(s.matcher, s.cfg.Passthrough, s.OpenSession, s.HandleFrame, s.logger)
}

// MetricsRegistry returns the Prometheus registry holding the
// simulator's traffic counters.
func (s *Simulator) MetricsRegistry() *prometheus.Registry {
	return s.metrics.registry
}

// Stats returns a snapshot of the traffic counters.
func (s *Simulator) Stats() Stats {
	return s.metrics.snapshot()
}

// OnSubscribe installs the subscription observer hook. Nil clears it.
func (s *Simulator) OnSubscribe(hook SubscribeHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onSubscribe = hook
}

// OnPublish installs the publish observer hook. Nil clears it.
func (s *Simulator) OnPublish(hook PublishHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onPublish = hook
}

// OpenSession registers a new session for an intercepted relay URL.
// The first session moves the store out of seeding mode.
func (s *Simulator) OpenSession(relayURL string, send transport.SendFunc) *transport.Session {
	sess := transport.NewSession(relayURL, send)
	sess.OnClose(func(closed *transport.Session) {
		s.sessMu.Lock()
		delete(s.sessions, closed.ID())
		s.sessMu.Unlock()
		s.logger.Debug("session closed", "session", closed.ID(), "url", closed.RelayURL())
	})

	s.sessMu.Lock()
	s.sessions[sess.ID()] = sess
	s.sessMu.Unlock()

	s.store.GoLive()
	s.metrics.sessionOpened()
	s.logger.Debug("session opened", "session", sess.ID(), "url", relayURL)
	return sess
}

// Sessions returns a snapshot of the currently open sessions.
func (s *Simulator) Sessions() []*transport.Session {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	out := make([]*transport.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// HandleFrame routes one client-to-relay frame. Malformed frames are
// answered with a NOTICE and otherwise ignored.
func (s *Simulator) HandleFrame(sess *transport.Session, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Verbose {
		s.logger.Debug("frame received", "session", sess.ID(), "frame", string(frame))
	}

	env, err := protocol.ParseClientFrame(frame)
	if err != nil {
		s.metrics.malformedFrame()
		s.logger.Debug("bad frame", "session", sess.ID(), "err", err)
		_ = sess.DeliverNotice(err.Error())
		return
	}

	switch e := env.(type) {
	case protocol.ReqEnvelope:
		s.handleReq(sess, e)
	case protocol.CloseEnvelope:
		sess.Registry().Close(e.SubscriptionID)
		s.logger.Debug("subscription closed", "session", sess.ID(), "sub", e.SubscriptionID)
	case protocol.EventEnvelope:
		s.handlePublish(sess, e.Event)
	}
}

// handleReq opens (or replaces) the subscription, replays the
// historical backlog and marks its end with EOSE.
func (s *Simulator) handleReq(sess *transport.Session, req protocol.ReqEnvelope) {
	replaced := sess.Registry().Open(req.SubscriptionID, req.Filters)
	s.logger.Debug("subscription opened",
		"session", sess.ID(), "sub", req.SubscriptionID, "filters", len(req.Filters), "replaced", replaced)

	backlog := protocol.Select(s.store.All(), req.Filters)
	for _, ev := range backlog {
		if err := sess.DeliverEvent(req.SubscriptionID, ev); err != nil {
			s.logger.Debug("backlog delivery failed", "session", sess.ID(), "err", err)
			break
		}
		s.metrics.frameDelivered()
	}
	_ = sess.DeliverEOSE(req.SubscriptionID)

	s.hookMu.RLock()
	hook := s.onSubscribe
	s.hookMu.RUnlock()
	if hook != nil {
		hook(sess, req.SubscriptionID, req.Filters)
	}
}

// handlePublish captures a client-originated event: store insert (with
// echo fan-out to every matching open subscription), capture into the
// published log, then the OK acknowledgement.
func (s *Simulator) handlePublish(sess *transport.Session, ev *protocol.Event) {
	if err := s.store.Insert(ev); err != nil {
		s.metrics.malformedFrame()
		_ = sess.DeliverNotice("rejected event: " + err.Error())
		return
	}
	s.metrics.eventStored()
	s.metrics.eventPublished()
	s.published.Append(ev)
	_ = sess.DeliverOK(ev.ID, true, "")
	s.logger.Debug("publish captured", "session", sess.ID(), "id", ev.ID, "kind", ev.Kind)

	s.hookMu.RLock()
	hook := s.onPublish
	s.hookMu.RUnlock()
	if hook != nil {
		hook(ev)
	}
}

// fanOutLocked delivers a freshly inserted event to every matching
// open subscription across every open session. Runs with mu held, on
// the goroutine that inserted the event.
func (s *Simulator) fanOutLocked(ev *protocol.Event) {
	for _, sess := range s.Sessions() {
		if sess.Closed() {
			continue
		}
		for _, sub := range sess.Registry().Snapshot() {
			if !sub.Filters.Match(ev) {
				continue
			}
			if err := sess.DeliverEvent(sub.ID, ev); err != nil {
				s.logger.Debug("fan-out delivery failed", "session", sess.ID(), "sub", sub.ID, "err", err)
				continue
			}
			s.metrics.frameDelivered()
		}
	}
}

// SeedEvents populates the store before a test runs. Seeded events are
// backlog only: they never fan out, regardless of mode.
func (s *Simulator) SeedEvents(events []*protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if err := s.store.Seed(ev); err != nil {
			return err
		}
		s.metrics.eventStored()
	}
	return nil
}

// InjectEvents inserts events mid-test as if other relay users had
// published them: each one fans out live to matching subscriptions.
func (s *Simulator) InjectEvents(events []*protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if err := s.store.Insert(ev); err != nil {
			return err
		}
		s.metrics.eventStored()
	}
	return nil
}

// StoredEvents returns a snapshot of every event in the store.
func (s *Simulator) StoredEvents() []*protocol.Event {
	return s.store.All()
}

// GetPublishedEvents returns every captured client publish, in capture
// order.
func (s *Simulator) GetPublishedEvents() []*protocol.Event {
	return s.published.Snapshot()
}

// GetPublishedEventsByKind returns the captured publishes of one kind.
func (s *Simulator) GetPublishedEventsByKind(kind int) []*protocol.Event {
	return s.published.SnapshotByKind(kind)
}

// WaitForEvent blocks until the client publishes an event of the given
// kind (and predicate, if non-nil), or the timeout elapses. Timeout
// failures are *capture.WaitTimeoutError values naming what was
// awaited.
func (s *Simulator) WaitForEvent(ctx context.Context, kind int, timeout time.Duration, pred capture.Predicate) (*protocol.Event, error) {
	return s.published.Wait(ctx, kind, timeout, pred)
}

// Reset restores the zero state between tests: every session closes,
// pending waits reject, and the store and published log empty. The
// configuration, hooks and counters survive.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.Sessions() {
		sess.Close()
	}
	s.published.Reset()
	s.store.Reset()
	s.logger.Debug("simulator reset")
}

// Close is Reset for the end of the whole run.
func (s *Simulator) Close() error {
	s.Reset()
	return nil
}
