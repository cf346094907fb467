package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is one row of the identity store. PasswordHash is a bcrypt hash and
// never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateUser inserts a new user and returns the stored row.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, email string) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, email, created_at) VALUES (?, ?, ?, ?)",
		username, passwordHash, nullable(email), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted user id: %w", err)
	}

	s.logger.WithField("username", username).Info("User created")
	return s.FindUserByID(ctx, id)
}

// FindUserByID looks a user up by primary key. Returns ErrNotFound when no
// such user exists.
func (s *Store) FindUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, email, created_at FROM users WHERE id = ?", id))
}

// FindUserByUsername looks a user up by username. Returns ErrNotFound when
// no such user exists.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, email, created_at FROM users WHERE username = ?", username))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var user User
	var email sql.NullString
	var createdAt string
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Email = email.String
	if user.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &user, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
