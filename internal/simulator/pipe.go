package simulator

import (
	"github.com/Pleb5/flotilla-budabit-sub001/internal/transport"
)

// pipeBuffer bounds how many undelivered frames a pipe client may
// leave unread before the simulator starts dropping for it.
const pipeBuffer = 256

// Pipe is the client end of an in-process session: it drives the
// simulator without any socket, which keeps protocol-level tests fast
// and deterministic.
type Pipe struct {
	sim    *Simulator
	sess   *transport.Session
	frames chan []byte
}

// OpenPipe opens an in-process session for the given relay URL and
// returns it together with its client end.
func (s *Simulator) OpenPipe(relayURL string) (*transport.Session, *Pipe) {
	p := &Pipe{sim: s, frames: make(chan []byte, pipeBuffer)}
	sess := s.OpenSession(relayURL, p.receive)
	p.sess = sess
	sess.OnClose(func(*transport.Session) { close(p.frames) })
	return sess, p
}

// receive is the session's SendFunc: it buffers relay-to-client
// frames for the test to read.
func (p *Pipe) receive(frame []byte) error {
	select {
	case p.frames <- frame:
	default:
		p.sim.logger.Debug("pipe full, dropping frame", "session", p.sess.ID())
	}
	return nil
}

// Send hands one client-to-relay frame to the simulator, exactly as a
// socket read loop would.
func (p *Pipe) Send(frame []byte) {
	p.sim.HandleFrame(p.sess, frame)
}

// Frames returns the relay-to-client frame stream. The channel closes
// when the session does.
func (p *Pipe) Frames() <-chan []byte {
	return p.frames
}

// Drain returns every frame currently buffered without blocking.
func (p *Pipe) Drain() [][]byte {
	var out [][]byte
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		default:
			return out
		}
	}
}

// Close tears down the underlying session.
func (p *Pipe) Close() {
	p.sess.Close()
}
