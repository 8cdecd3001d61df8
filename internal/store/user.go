package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/docnt/docnt/internal/model"
)

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(u model.User) (string, error) {
	id := newID()
	if u.Role == "" {
		u.Role = model.UserRoleTeacher
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, name, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, u.Email, u.Name, u.PasswordHash, u.Role, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return "", err
	}
	slog.Info("created user", "id", id, "email", u.Email, "role", u.Role)
	return id, nil
}

// GetUserByEmail returns a user by email, or nil if none matches.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT id, email, name, password_hash, role, created_at
		 FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns a user by ID, or nil if none matches.
func (s *Store) GetUserByID(id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT id, email, name, password_hash, role, created_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// RevokeToken records a logged-out token ID until it would have expired.
func (s *Store) RevokeToken(id string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO revoked_tokens (id, expires_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, expiresAt,
	)
	return err
}

// IsTokenRevoked reports whether a token ID was revoked.
func (s *Store) IsTokenRevoked(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// CleanupRevokedTokens drops revocations whose tokens have expired anyway.
func (s *Store) CleanupRevokedTokens() error {
	_, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now())
	return err
}
