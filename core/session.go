/*
Package core provides the push-session implementation for the chatrelay
server.

A PushSession owns one long-lived server-to-client SSE response. It sends the
connected handshake as the first bytes on the wire, serializes all subsequent
writes (relay events and heartbeat frames share one lock so a frame is never
interleaved mid-record), and tears itself down exactly once on peer
disconnect, write failure, or explicit close.
*/
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSessionClosed is returned by Send when the session has left the Open
// state. Callers routing relay output treat it as peer-gone, not as a turn
// failure.
var ErrSessionClosed = errors.New("push session closed")

// Push-session lifecycle states. There is no transition back to Open.
type sessionState int

const (
	stateOpening sessionState = iota
	stateOpen
	stateClosing
	stateClosed
)

// StreamWriter is the transport half a PushSession writes to. Echo's
// response writer satisfies it; tests substitute an in-memory fake.
type StreamWriter interface {
	io.Writer
	http.Flusher
}

// PushSession owns one long-lived outbound SSE connection identified by an
// ephemeral client ID. All writes go through a single mutex so the heartbeat
// writer and the relay writer can never corrupt a frame.
type PushSession struct {
	ID string

	mu      sync.Mutex
	w       StreamWriter
	state   sessionState
	done    chan struct{}
	onClose func()

	logger *logrus.Entry
}

// NewPushSession creates a session in the Opening state with a freshly
// assigned client ID. onClose runs exactly once when the session tears down;
// the registry uses it to drop its reference.
func NewPushSession(w StreamWriter, logger *logrus.Logger) *PushSession {
	id := uuid.NewString()
	return &PushSession{
		ID:     id,
		w:      w,
		state:  stateOpening,
		done:   make(chan struct{}),
		logger: logger.WithField("clientId", id),
	}
}

// OnClose registers the teardown hook. Must be called before Open.
func (s *PushSession) OnClose(fn func()) {
	s.onClose = fn
}

// Open writes the connected handshake as the first record on the transport
// and transitions the session to Open. Nothing else may be written first.
func (s *PushSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpening {
		return fmt.Errorf("open called in state %d", s.state)
	}

	if err := s.writeEventLocked(ConnectedEvent(s.ID)); err != nil {
		s.state = stateClosed
		return fmt.Errorf("handshake write failed: %w", err)
	}

	s.state = stateOpen
	s.logger.Info("Push session opened")
	return nil
}

// Send serializes and writes one client event. A write failure tears the
// session down; sending on an already-closed session returns
// ErrSessionClosed without side effects.
func (s *PushSession) Send(event ClientEvent) error {
	s.mu.Lock()
	if s.state != stateOpen {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	if err := s.writeEventLocked(event); err != nil {
		s.mu.Unlock()
		s.logger.WithError(err).WithField("eventType", event.Type).Warn("Event write failed, closing session")
		s.Close()
		return err
	}
	s.mu.Unlock()

	eventsSent.WithLabelValues(event.Type).Inc()
	return nil
}

// Heartbeat writes a no-op keepalive comment frame. A failed heartbeat means
// the peer is gone; the session is closed and the error returned so the
// owning handler can stop its timer loop.
func (s *PushSession) Heartbeat() error {
	s.mu.Lock()
	if s.state != stateOpen {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	if _, err := io.WriteString(s.w, ":\n\n"); err != nil {
		s.mu.Unlock()
		s.logger.WithError(err).Warn("Heartbeat write failed, closing session")
		s.Close()
		return err
	}
	s.w.Flush()
	s.mu.Unlock()

	s.logger.Debug("Heartbeat sent")
	return nil
}

// Close tears the session down. It is idempotent: the first call transitions
// Open/Opening to Closing, runs the teardown hook, and signals Done; later
// calls are no-ops.
func (s *PushSession) Close() {
	s.mu.Lock()
	if s.state == stateClosing || s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
	close(s.done)

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()

	s.logger.Info("Push session closed")
}

// Done is closed when the session has been torn down. The stream handler
// blocks on it to keep the HTTP response open for the session's lifetime.
func (s *PushSession) Done() <-chan struct{} {
	return s.done
}

// writeEventLocked frames one event as an SSE data record and flushes it.
// Caller holds s.mu.
func (s *PushSession) writeEventLocked(event ClientEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
