/*
Package core contains the fundamental data types and structures used
throughout the chatrelay server.

This file defines the wire contract between the server and browser clients:
the tagged ClientEvent variants pushed over SSE, and the request/response
types of the HTTP API.

Key type categories:
- Push-connection event types (ClientEvent and constructors)
- Chat API types (MessageRequest)
- Auth API types (RegisterRequest, LoginRequest, AuthUser)
*/
package core

import "time"

// Client-visible event types carried in the ClientEvent Type field.
// The client-side reducer discriminates on these values.
const (
	EventConnected      = "connected"
	EventUserMessage    = "user_message"
	EventAIThinking     = "ai_thinking"
	EventThinkingStart  = "ai_thinking_process_start"
	EventThinkingChunk  = "ai_thinking_process_chunk"
	EventThinkingEnd    = "ai_thinking_process_end"
	EventAIMessageChunk = "ai_message_chunk"
	EventSystem         = "system"
)

// ClientEvent is one framed record pushed to a browser client. The Type
// field discriminates the variant; Content carries a string for text events
// and a bool for ai_thinking. Connected events additionally carry the
// assigned client identifier.
type ClientEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`   // Human-readable note (connected handshake only)
	ClientID  string `json:"clientId,omitempty"`  // Assigned identifier (connected handshake only)
	Content   any    `json:"content,omitempty"`   // Text payload, or bool for ai_thinking
	Timestamp string `json:"timestamp,omitempty"` // Server-side emission time, RFC3339
}

// eventTime formats the emission timestamp the way the frontend expects.
func eventTime() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ConnectedEvent is the handshake record sent first on every push connection.
func ConnectedEvent(clientID string) ClientEvent {
	return ClientEvent{Type: EventConnected, Message: "connection established", ClientID: clientID}
}

// UserMessageEvent echoes the user's own message back on the push connection.
func UserMessageEvent(text string) ClientEvent {
	return ClientEvent{Type: EventUserMessage, Content: text, Timestamp: eventTime()}
}

// ThinkingEvent toggles the client's "assistant is thinking" indicator.
func ThinkingEvent(on bool) ClientEvent {
	return ClientEvent{Type: EventAIThinking, Content: on, Timestamp: eventTime()}
}

// ThinkingStartEvent opens the reasoning trace.
func ThinkingStartEvent() ClientEvent {
	return ClientEvent{Type: EventThinkingStart, Timestamp: eventTime()}
}

// ThinkingChunkEvent carries one fragment of the reasoning trace.
func ThinkingChunkEvent(text string) ClientEvent {
	return ClientEvent{Type: EventThinkingChunk, Content: text, Timestamp: eventTime()}
}

// ThinkingEndEvent closes the reasoning trace. It is always emitted before
// the first answer chunk and at most once per turn.
func ThinkingEndEvent() ClientEvent {
	return ClientEvent{Type: EventThinkingEnd, Timestamp: eventTime()}
}

// MessageChunkEvent carries one fragment of the final answer.
func MessageChunkEvent(text string) ClientEvent {
	return ClientEvent{Type: EventAIMessageChunk, Content: text, Timestamp: eventTime()}
}

// SystemEvent carries a human-readable server-side notice, such as an
// upstream failure description.
func SystemEvent(text string) ClientEvent {
	return ClientEvent{Type: EventSystem, Content: text, Timestamp: eventTime()}
}

// MessageRequest is the body of POST /chat/message. ClientID routes the
// relayed output to the caller's open push connection.
type MessageRequest struct {
	Message  string `json:"message"`
	ClientID string `json:"clientId"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthUser is the public view of a user returned by the auth endpoints.
type AuthUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
