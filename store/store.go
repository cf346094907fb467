/*
Package store provides SQLite-backed persistence for the chatrelay server.

It holds the identity store (users) and the optional chat history
(messages). The relay treats all message writes as best-effort; only the
auth endpoints depend on this package for correctness.
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	// Pure-Go SQLite driver, registered for side effects. No CGO needed,
	// which keeps cross-compilation and testing simple.
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup targets a non-existent row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database handle. database/sql serializes access
// internally; the busy timeout covers concurrent writers.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Stats summarizes store contents for the health endpoint.
type Stats struct {
	Users    int `json:"users"`
	Messages int `json:"messages"`
}

// Open opens or creates the SQLite database at the given path and ensures
// the schema exists. Use ":memory:" for tests.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	logger.WithField("path", path).Info("Opening message store")

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// initSchema creates the required tables if they don't exist. Uses IF NOT
// EXISTS to make the operation idempotent.
func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			email         TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			client_id  TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_user_created
			ON messages(user_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Stats returns row counts for the health endpoint.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM users").Scan(&stats.Users); err != nil {
		return stats, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM messages").Scan(&stats.Messages); err != nil {
		return stats, fmt.Errorf("count messages: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
