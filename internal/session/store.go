package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sixtypay/automail/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("session: invalid email or password")
	ErrUserExists         = errors.New("session: user already exists")
	ErrNotFound           = errors.New("session: not found")
)

// User is a local dashboard account
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Admin     bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a logged-in browser session. UpstreamToken is the bearer
// token obtained from the outreach backend at login and used for all
// proxied calls made on this session's behalf.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	UpstreamToken string    `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store manages users and their sessions in the local database
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(db *store.DB, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		db:     db.DB,
		ttl:    ttl,
		logger: logger.With("component", "session"),
	}
}

// CreateUser registers a local account with a bcrypt-hashed password
func (s *Store) CreateUser(email, password, name string, admin bool) (*User, error) {
	var exists string
	err := s.db.QueryRow("SELECT id FROM users WHERE email = ?", email).Scan(&exists)
	if err == nil {
		return nil, ErrUserExists
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{
		ID:    uuid.New().String(),
		Email: email,
		Name:  name,
		Admin: admin,
	}
	adminFlag := 0
	if admin {
		adminFlag = 1
	}
	_, err = s.db.Exec(
		"INSERT INTO users (id, email, password_hash, name, is_admin) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, string(hash), u.Name, adminFlag,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// Authenticate verifies email/password against the local accounts
func (s *Store) Authenticate(email, password string) (*User, error) {
	var (
		u         User
		hash      string
		adminFlag int
	)
	err := s.db.QueryRow(`
		SELECT id, email, password_hash, COALESCE(name, '') as name, is_admin, created_at, updated_at
		FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &hash, &u.Name, &adminFlag, &u.CreatedAt, &u.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	u.Admin = adminFlag != 0
	return &u, nil
}

// GetUserByEmail returns a local account, ErrNotFound when absent
func (s *Store) GetUserByEmail(email string) (*User, error) {
	return s.getUser("email", email)
}

// GetUser returns a local account by id, ErrNotFound when absent
func (s *Store) GetUser(id string) (*User, error) {
	return s.getUser("id", id)
}

func (s *Store) getUser(column, value string) (*User, error) {
	var (
		u         User
		adminFlag int
	)
	err := s.db.QueryRow(`
		SELECT id, email, COALESCE(name, '') as name, is_admin, created_at, updated_at
		FROM users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.Email, &u.Name, &adminFlag, &u.CreatedAt, &u.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	u.Admin = adminFlag != 0
	return &u, nil
}

// ListUsers returns all local accounts ordered by email
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT id, email, COALESCE(name, '') as name, is_admin, created_at, updated_at
		FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var (
			u         User
			adminFlag int
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &adminFlag, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Admin = adminFlag != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetPassword replaces a user's password
func (s *Store) SetPassword(email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.Exec(
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE email = ?",
		string(hash), time.Now(), email,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a local account and, via cascade, its sessions
func (s *Store) DeleteUser(email string) error {
	res, err := s.db.Exec("DELETE FROM users WHERE email = ?", email)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession opens a session for a user, carrying the upstream token
func (s *Store) CreateSession(userID, upstreamToken string) (*Session, error) {
	sess := &Session{
		ID:            uuid.New().String(),
		UserID:        userID,
		UpstreamToken: upstreamToken,
		ExpiresAt:     time.Now().Add(s.ttl),
	}
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, user_id, upstream_token, expires_at) VALUES (?, ?, ?, ?)",
		sess.ID, sess.UserID, sess.UpstreamToken, sess.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession returns a live session and its user. Expired or unknown
// sessions yield ErrNotFound.
func (s *Store) GetSession(id string) (*Session, *User, error) {
	var (
		sess Session
		tok  sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, user_id, upstream_token, expires_at, created_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &tok, &sess.ExpiresAt, &sess.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
		return nil, nil, ErrNotFound
	}
	sess.UpstreamToken = tok.String

	user, err := s.GetUser(sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	return &sess, user, nil
}

// DeleteSession logs a session out, reporting whether a row was removed
func (s *Store) DeleteSession(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpired sweeps expired sessions, returning how many were removed
func (s *Store) DeleteExpired() (int64, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE expires_at < ?", time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupLoop periodically sweeps expired sessions until ctx is done
func (s *Store) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired()
			if err != nil {
				s.logger.Error("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}
