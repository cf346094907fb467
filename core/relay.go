/*
Package core provides the relay orchestrator for the chatrelay server.

A relay turn takes one inbound user message, echoes it to the originating
push session, streams the model provider's output through the delta parser,
and re-frames each delta into the client-visible event sequence. The
reasoning-to-answer transition is handled by one explicit state machine here
rather than being re-derived per event type.
*/
package core

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Message roles used for persisted chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageSaver is the persistence collaborator consumed by the relay. All
// writes are best-effort: failures are logged and never abort a turn.
type MessageSaver interface {
	SaveMessage(ctx context.Context, userID int64, role, content, clientID string) error
}

// reasoningState tracks where the current turn is in the
// start -> chunks -> end reasoning-trace protocol.
type reasoningState int

const (
	reasoningNotStarted reasoningState = iota
	reasoningOpen
	reasoningClosed
)

// Relay consumes upstream model streams and re-emits them as client events
// on the originating push session.
type Relay struct {
	registry *SessionRegistry
	provider *ProviderClient
	saver    MessageSaver
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewRelay wires the orchestrator's collaborators together.
func NewRelay(registry *SessionRegistry, provider *ProviderClient, saver MessageSaver, timeout time.Duration, logger *logrus.Logger) *Relay {
	return &Relay{
		registry: registry,
		provider: provider,
		saver:    saver,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run relays one chat turn to the push session identified by clientID. It is
// called on its own goroutine per turn; every failure is scoped to the turn
// and surfaced, at worst, as a system event to the client.
//
// If the target session closes mid-turn the upstream stream is still drained
// so the provider connection is not leaked; sends simply become no-ops.
func (r *Relay) Run(ctx context.Context, userID int64, clientID, message string) {
	turnLogger := r.logger.WithFields(logrus.Fields{
		"clientId": clientID,
		"userId":   userID,
	})

	relayTurns.Inc()
	turnLogger.WithField("messageLength", len(message)).Info("Relay turn started")

	// Echo the user's message back on the push connection first
	r.sendToClient(clientID, UserMessageEvent(message), turnLogger)
	r.persist(ctx, userID, RoleUser, message, clientID, turnLogger)

	r.sendToClient(clientID, ThinkingEvent(true), turnLogger)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := r.provider.StreamChat(ctx, message)
	if err != nil {
		upstreamFailures.Inc()
		turnLogger.WithError(err).Error("Upstream request failed, aborting turn")
		r.sendToClient(clientID, SystemEvent("AI service error: "+err.Error()), turnLogger)
		r.sendToClient(clientID, ThinkingEvent(false), turnLogger)
		return
	}
	defer body.Close()

	stream := NewDeltaStream(body, turnLogger)

	var answer strings.Builder
	state := reasoningNotStarted

	for {
		delta, ok := stream.Next()
		if !ok {
			break
		}

		switch delta.Kind {
		case DeltaReasoning:
			switch state {
			case reasoningNotStarted:
				state = reasoningOpen
				r.sendToClient(clientID, ThinkingStartEvent(), turnLogger)
				r.sendToClient(clientID, ThinkingChunkEvent(delta.Text), turnLogger)
			case reasoningOpen:
				r.sendToClient(clientID, ThinkingChunkEvent(delta.Text), turnLogger)
			case reasoningClosed:
				// The trace was force-closed when the answer began; a late
				// reasoning delta would violate the event ordering contract.
				turnLogger.Debug("Dropping reasoning delta after answer started")
			}

		case DeltaAnswer:
			if state == reasoningOpen {
				state = reasoningClosed
				r.sendToClient(clientID, ThinkingEndEvent(), turnLogger)
			}
			r.sendToClient(clientID, MessageChunkEvent(delta.Text), turnLogger)
			answer.WriteString(delta.Text)
		}
	}

	// Stream ended while the reasoning trace was still open
	if state == reasoningOpen {
		r.sendToClient(clientID, ThinkingEndEvent(), turnLogger)
	}

	r.sendToClient(clientID, ThinkingEvent(false), turnLogger)

	if answer.Len() > 0 {
		r.persist(ctx, userID, RoleAssistant, answer.String(), clientID, turnLogger)
	}

	turnLogger.WithField("answerLength", answer.Len()).Info("Relay turn completed")
}

// sendToClient routes one event to the target session. A missing session
// means the peer is gone: the event is dropped and the turn continues.
func (r *Relay) sendToClient(clientID string, event ClientEvent, turnLogger *logrus.Entry) {
	session, ok := r.registry.Lookup(clientID)
	if !ok {
		turnLogger.WithField("eventType", event.Type).Warn("No live session for client, dropping event")
		return
	}
	if err := session.Send(event); err != nil {
		// Send already logged and tore the session down; later sends will
		// miss the registry lookup instead.
		turnLogger.WithField("eventType", event.Type).Debug("Event dropped on closed session")
	}
}

// persist writes one chat message best-effort.
func (r *Relay) persist(ctx context.Context, userID int64, role, content, clientID string, turnLogger *logrus.Entry) {
	if r.saver == nil {
		return
	}
	if err := r.saver.SaveMessage(ctx, userID, role, content, clientID); err != nil {
		turnLogger.WithError(err).WithField("role", role).Warn("Failed to persist chat message")
	}
}
