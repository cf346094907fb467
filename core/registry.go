/*
Package core provides the session registry for the chatrelay server.

The registry is the only cross-session shared mutable state in the process:
a mutex-guarded mapping from client ID to open push session. Everything else
reaches live connections through its register/lookup/unregister contract.
*/
package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// SessionRegistry maps client IDs to live push sessions. All three
// operations are atomic with respect to each other; a lookup miss is the
// normal "peer is gone" signal, never an error.
type SessionRegistry struct {
	sessions map[string]*PushSession
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(logger *logrus.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*PushSession),
		logger:   logger,
	}
}

// Register adds a session under its client ID and wires the session's
// teardown to remove it again, so a closed session can never be looked up.
// Returns the assigned client ID.
func (r *SessionRegistry) Register(session *PushSession) string {
	session.OnClose(func() {
		r.Unregister(session.ID)
	})

	r.mutex.Lock()
	r.sessions[session.ID] = session
	count := len(r.sessions)
	r.mutex.Unlock()

	openSessions.Set(float64(count))
	r.logger.WithFields(logrus.Fields{
		"clientId":     session.ID,
		"sessionCount": count,
	}).Info("Push session registered")

	return session.ID
}

// Lookup returns the live session for a client ID. The second return value
// is false for unknown or already-closed IDs; callers treat that as a no-op
// send, not a failure.
func (r *SessionRegistry) Lookup(clientID string) (*PushSession, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	session, ok := r.sessions[clientID]
	return session, ok
}

// Unregister removes a session by client ID. Removing an absent ID is a
// no-op.
func (r *SessionRegistry) Unregister(clientID string) {
	r.mutex.Lock()
	_, existed := r.sessions[clientID]
	delete(r.sessions, clientID)
	count := len(r.sessions)
	r.mutex.Unlock()

	openSessions.Set(float64(count))
	if existed {
		r.logger.WithFields(logrus.Fields{
			"clientId":     clientID,
			"sessionCount": count,
		}).Info("Push session unregistered")
	}
}

// Count returns the number of currently open sessions.
func (r *SessionRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every open session. Used during graceful shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mutex.RLock()
	sessions := make([]*PushSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mutex.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
