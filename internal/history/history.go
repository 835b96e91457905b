// Package history persists a local, append-only audit trail of fetch and
// publish outcomes in a BoltDB file. It is adapted from this codebase's
// original update-history store (bucketHistory, RecordUpdate/ListHistory):
// same bucket-and-JSON-value shape, repointed at tako's own Record type.
//
// History is write-mostly from the core pipeline's point of view — nothing
// in internal/fetch or internal/publish ever reads it back to make a
// decision. Losing a history write on crash is inconsequential, unlike a
// crash mid blob/manifest write, which the store package's scoped-tempfile
// discipline must still make safe.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketHistory = []byte("history")

// keyLayout is RFC 3339 with a fixed nine-digit fraction, so keys built from
// UTC timestamps sort bytewise in chronological order.
const keyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Outcome labels how an operation concluded.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomeFailed      Outcome = "failed"
)

// Record describes one fetch or publish attempt against a destination.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"` // "fetch", "publish", or a store-level op like "blob_commit"
	Origin      string    `json:"origin,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Version     string    `json:"version,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}

// DB wraps a BoltDB database holding the history bucket.
type DB struct {
	db *bolt.DB
}

// Open creates or opens the history database at path and ensures the
// history bucket exists.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Record appends rec to the history bucket, keyed by timestamp so a cursor
// walk yields chronological order.
func (d *DB) Record(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		key := []byte(rec.Timestamp.UTC().Format(keyLayout))
		return b.Put(key, data)
	})
}

// List returns the most recent records, newest first, up to limit (0 means
// unlimited).
func (d *DB) List(limit int) ([]Record, error) {
	var records []Record
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}
