package transport

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Pleb5/flotilla-budabit-sub001/internal/subscription"
	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

// ErrSessionClosed is returned when a frame is delivered to a closed
// session.
var ErrSessionClosed = errors.New("session is closed")

// SendFunc delivers one relay-to-client frame over whatever carries
// this session (a real WebSocket, or an in-process pipe in tests).
type SendFunc func(frame []byte) error

// Session is one intercepted connection: the relay URL it simulates,
// the open subscriptions of that connection, and the outbound frame
// path back to the client. Frames arriving from the client are routed
// by the simulator, not the session.
type Session struct {
	id       string
	relayURL string
	registry *subscription.Registry

	mu         sync.Mutex
	send       SendFunc
	closed     bool
	closeHooks []func(*Session)
}

// NewSession creates an open session for the given relay URL.
func NewSession(relayURL string, send SendFunc) *Session {
	return &Session{
		id:       uuid.NewString(),
		relayURL: relayURL,
		registry: subscription.NewRegistry(),
		send:     send,
	}
}

// OnClose registers a hook that runs exactly once when the session
// closes, in registration order. Registering on an already closed
// session runs the hook immediately.
func (s *Session) OnClose(hook func(*Session)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		hook(s)
		return
	}
	s.closeHooks = append(s.closeHooks, hook)
	s.mu.Unlock()
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// RelayURL returns the relay URL this session simulates.
func (s *Session) RelayURL() string { return s.relayURL }

// Registry returns the session's subscription registry.
func (s *Session) Registry() *subscription.Registry { return s.registry }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send writes one raw frame to the client. Sends on a closed session
// return ErrSessionClosed.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.send(frame)
}

// DeliverEvent sends an ["EVENT", subID, event] frame.
func (s *Session) DeliverEvent(subID string, ev *protocol.Event) error {
	frame, err := protocol.EventFrame(subID, ev)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// DeliverEOSE sends the end-of-backlog marker for a subscription.
func (s *Session) DeliverEOSE(subID string) error {
	frame, err := protocol.EOSEFrame(subID)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// DeliverOK sends the acknowledgement for a client publish.
func (s *Session) DeliverOK(eventID string, accepted bool, message string) error {
	frame, err := protocol.OKFrame(eventID, accepted, message)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// DeliverNotice sends a diagnostic NOTICE frame.
func (s *Session) DeliverNotice(message string) error {
	frame, err := protocol.NoticeFrame(message)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// Close tears the session down: all its subscriptions close and no
// further frames are delivered. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	hooks := s.closeHooks
	s.closeHooks = nil
	s.mu.Unlock()

	s.registry.CloseAll()
	for _, hook := range hooks {
		hook(s)
	}
}
