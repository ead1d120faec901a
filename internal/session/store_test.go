package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sixtypay/automail/internal/store"
)

func setupStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()

	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(db, ttl, logger)
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	s := setupStore(t, time.Hour)

	u, err := s.CreateUser("staff@example.com", "hunter22", "Staff", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Admin {
		t.Error("non-admin user created with admin flag")
	}

	if _, err := s.CreateUser("staff@example.com", "other", "", false); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate create = %v, want ErrUserExists", err)
	}

	got, err := s.Authenticate("staff@example.com", "hunter22")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("authenticated id = %s, want %s", got.ID, u.ID)
	}

	if _, err := s.Authenticate("staff@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := s.Authenticate("nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user = %v, want ErrInvalidCredentials", err)
	}
}

func TestSetPassword(t *testing.T) {
	s := setupStore(t, time.Hour)
	if _, err := s.CreateUser("staff@example.com", "old", "", false); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := s.SetPassword("staff@example.com", "newpass"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := s.Authenticate("staff@example.com", "newpass"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if _, err := s.Authenticate("staff@example.com", "old"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password still accepted")
	}

	if err := s.SetPassword("nobody@example.com", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("set password for unknown user = %v, want ErrNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := setupStore(t, time.Hour)
	u, err := s.CreateUser("staff@example.com", "hunter22", "", true)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := s.CreateSession(u.ID, "upstream-token")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, user, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UpstreamToken != "upstream-token" {
		t.Errorf("upstream token = %q", got.UpstreamToken)
	}
	if !user.Admin || user.Email != "staff@example.com" {
		t.Errorf("session user = %+v", user)
	}

	removed, err := s.DeleteSession(sess.ID)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if !removed {
		t.Error("delete of a live session reported removed = false")
	}
	if _, _, err := s.GetSession(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted session = %v, want ErrNotFound", err)
	}

	// A second delete finds nothing to remove.
	removed, err = s.DeleteSession(sess.ID)
	if err != nil {
		t.Fatalf("repeat delete session: %v", err)
	}
	if removed {
		t.Error("repeat delete reported removed = true")
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	s := setupStore(t, -time.Minute)
	u, err := s.CreateUser("staff@example.com", "hunter22", "", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := s.CreateSession(u.ID, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, _, err := s.GetSession(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session = %v, want ErrNotFound", err)
	}
}

func TestDeleteExpiredSweep(t *testing.T) {
	s := setupStore(t, -time.Minute)
	u, err := s.CreateUser("staff@example.com", "hunter22", "", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateSession(u.ID, ""); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := s.CreateSession(u.ID, ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	n, err := s.DeleteExpired()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d sessions, want 2", n)
	}
}

func TestDeleteUserCascadesSessions(t *testing.T) {
	s := setupStore(t, time.Hour)
	u, err := s.CreateUser("staff@example.com", "hunter22", "", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sess, err := s.CreateSession(u.ID, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := s.DeleteUser("staff@example.com"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, _, err := s.GetSession(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session survived user deletion: %v", err)
	}
}
