package transport

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

// writeTimeout bounds a single frame write to a client so a stalled
// reader cannot wedge delivery for every other session.
const writeTimeout = 10 * time.Second

// SessionOpener registers a new session for an intercepted relay URL
// and returns it. The simulator supplies this; it wires the session
// into fan-out and its own bookkeeping.
type SessionOpener func(relayURL string, send SendFunc) *Session

// FrameHandler routes one client-to-relay frame for a session.
type FrameHandler func(sess *Session, frame []byte)

// WebSocketServer is the HTTP front of the interceptor: it upgrades
// incoming connections, turns matched relay URLs into Sessions, and
// either proxies or refuses unmatched ones.
//
// The relay URL a connection simulates is taken from the "url" query
// parameter when present, falling back to the request Host, so one
// listener can impersonate any number of relays.
type WebSocketServer struct {
	Matcher     *Matcher
	Passthrough bool
	Open        SessionOpener
	Frame       FrameHandler
	Logger      *slog.Logger

	upgrader websocket.Upgrader
}

// NewWebSocketServer builds the server. The upgrader accepts any
// origin; this is a test double, not an internet-facing relay.
func NewWebSocketServer(matcher *Matcher, passthrough bool, open SessionOpener, frame FrameHandler, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebSocketServer{
		Matcher:     matcher,
		Passthrough: passthrough,
		Open:        open,
		Frame:       frame,
		Logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RelayURL extracts the relay URL a request wants simulated.
func RelayURL(r *http.Request) string {
	if u := r.URL.Query().Get("url"); u != "" {
		return u
	}
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + r.Host
}

// ServeHTTP implements http.Handler.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	relayURL := RelayURL(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("upgrade failed", "url", relayURL, "err", err)
		return
	}
	defer conn.Close()

	if !s.Matcher.Match(relayURL) {
		if s.Passthrough {
			s.Logger.Debug("passing through", "url", relayURL)
			s.proxy(conn, relayURL)
			return
		}
		s.Logger.Debug("refusing unmatched url", "url", relayURL)
		if frame, err := protocol.NoticeFrame("relay not simulated: " + relayURL); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
		return
	}

	// Writes come from both the read loop (OK, EOSE) and fan-out on
	// other goroutines; gorilla allows one concurrent writer only. The
	// deadline bounds how long a stalled reader can block fan-out,
	// which otherwise holds the frame mutex across every session.
	var writeMu sync.Mutex
	send := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	sess := s.Open(relayURL, send)
	defer sess.Close()
	sess.OnClose(func(*Session) { _ = conn.Close() })

	s.Logger.Debug("session opened", "session", sess.ID(), "url", relayURL)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.Logger.Debug("session read ended", "session", sess.ID(), "err", err)
			return
		}
		s.Frame(sess, data)
	}
}

// proxy pipes frames between the client connection and the real relay
// at relayURL until either side closes.
func (s *WebSocketServer) proxy(client *websocket.Conn, relayURL string) {
	remote, _, err := websocket.DefaultDialer.Dial(relayURL, nil)
	if err != nil {
		s.Logger.Debug("passthrough dial failed", "url", relayURL, "err", err)
		if frame, ferr := protocol.NoticeFrame("passthrough dial failed: " + err.Error()); ferr == nil {
			_ = client.WriteMessage(websocket.TextMessage, frame)
		}
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst, src *websocket.Conn) {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := src.ReadMessage()
			if err != nil {
				return
			}
			if err := dst.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}
	go pipe(remote, client)
	go pipe(client, remote)
	<-done
}
