package store

import (
	"database/sql"
	"time"
)

// SendOptions are the per-user dispatch preferences persisted across
// sessions.
type SendOptions struct {
	UserID        string    `json:"user_id"`
	SkipContacted bool      `json:"skip_contacted"`
	MaxRecipients int       `json:"max_recipients"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type OptionsRepository struct {
	db *sql.DB
}

func NewOptionsRepository(db *DB) *OptionsRepository {
	return &OptionsRepository{db: db.DB}
}

// Get returns the stored options for a user, or nil when none are saved
func (r *OptionsRepository) Get(userID string) (*SendOptions, error) {
	o := &SendOptions{}
	var skip int
	err := r.db.QueryRow(`
		SELECT user_id, skip_contacted, max_recipients, updated_at
		FROM send_options WHERE user_id = ?`, userID,
	).Scan(&o.UserID, &skip, &o.MaxRecipients, &o.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.SkipContacted = skip != 0
	return o, nil
}

// Set upserts the options for a user
func (r *OptionsRepository) Set(userID string, skipContacted bool, maxRecipients int) error {
	skip := 0
	if skipContacted {
		skip = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO send_options (user_id, skip_contacted, max_recipients, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			skip_contacted = excluded.skip_contacted,
			max_recipients = excluded.max_recipients,
			updated_at = excluded.updated_at`,
		userID, skip, maxRecipients, time.Now(),
	)
	return err
}
