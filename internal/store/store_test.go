package store

import (
	"testing"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func insertTestUser(t *testing.T, db *DB, id, email string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)",
		id, email, "x",
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db)

	if v, err := repo.GetSetting("theme"); err != nil || v != "" {
		t.Fatalf("unset key = (%q, %v), want empty", v, err)
	}

	if err := repo.SetSetting("theme", "dark"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.SetSetting("theme", "light"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	if v, err := repo.GetSetting("theme"); err != nil || v != "light" {
		t.Fatalf("get = (%q, %v), want light", v, err)
	}

	if err := repo.DeleteSetting("theme"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := repo.GetSetting("theme"); v != "" {
		t.Fatalf("deleted key = %q, want empty", v)
	}
}

func TestSendOptionsUpsert(t *testing.T) {
	db := setupTestDB(t)
	insertTestUser(t, db, "u1", "staff@example.com")
	repo := NewOptionsRepository(db)

	if o, err := repo.Get("u1"); err != nil || o != nil {
		t.Fatalf("options before save = (%+v, %v), want nil", o, err)
	}

	if err := repo.Set("u1", true, 500); err != nil {
		t.Fatalf("set: %v", err)
	}
	o, err := repo.Get("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !o.SkipContacted || o.MaxRecipients != 500 {
		t.Fatalf("options = %+v", o)
	}

	if err := repo.Set("u1", false, 1000); err != nil {
		t.Fatalf("update: %v", err)
	}
	o, err = repo.Get("u1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if o.SkipContacted || o.MaxRecipients != 1000 {
		t.Fatalf("updated options = %+v", o)
	}
}

func TestSendOptionsRequireUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOptionsRepository(db)

	if err := repo.Set("ghost", true, 100); err == nil {
		t.Fatal("set for unknown user succeeded, want FK violation")
	}
}
