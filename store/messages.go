package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is one persisted chat-history row.
type Message struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ClientID  string    `json:"clientId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveMessage records one chat message. Callers on the relay path treat
// failures as best-effort.
func (s *Store) SaveMessage(ctx context.Context, userID int64, role, content, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (user_id, role, content, client_id, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, role, content, nullable(clientID), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// UserMessages returns a page of the user's chat history, newest first.
func (s *Store) UserMessages(ctx context.Context, userID int64, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, client_id, created_at
		 FROM messages WHERE user_id = ?
		 ORDER BY id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		var clientID sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Role, &msg.Content, &clientID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ClientID = clientID.String
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
