package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketByTime  = []byte("by_time")
)

// Record is one completed bulk dispatch, kept locally so operators can
// review outcomes after the upstream result banner is dismissed.
type Record struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	ActorEmail   string    `json:"actor_email"`
	TemplateID   string    `json:"template_id"`
	Targeted     int       `json:"targeted"`
	Total        int       `json:"total"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	ElapsedSec   float64   `json:"elapsed_sec"`
	Failures     []Failure `json:"failures,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Failure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// Log is a bbolt-backed append-only dispatch log
type Log struct {
	db *bolt.DB
}

func Open(path string) (*Log, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketByTime} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append stores a record, assigning an id and timestamp when unset
func (l *Log) Append(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := tx.Bucket(bucketRecords).Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		indexKey := makeIndexKey(rec.CreatedAt, rec.ID)
		if err := tx.Bucket(bucketByTime).Put(indexKey, []byte(rec.ID)); err != nil {
			return fmt.Errorf("failed to index record: %w", err)
		}
		return nil
	})
}

// Get retrieves a record by id, nil when absent
func (l *Log) Get(id string) (*Record, error) {
	var rec *Record
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return nil
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// Recent returns up to limit records, newest first
func (l *Log) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		recBucket := tx.Bucket(bucketRecords)
		c := tx.Bucket(bucketByTime).Cursor()

		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			data := recBucket.Get(v)
			if data == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Prune removes records older than the cutoff, returning how many went
func (l *Log) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		recBucket := tx.Bucket(bucketRecords)
		c := tx.Bucket(bucketByTime).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !parseTimestampFromKey(k).Before(cutoff) {
				break
			}
			if err := recBucket.Delete(v); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp (RFC3339Nano) + ":" + id
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}

func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			t, _ := time.Parse(time.RFC3339Nano, s[:i])
			return t
		}
	}
	return time.Time{}
}
