// Package recorder is the flight recorder: telemetry and thread events
// appended to a bbolt file.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	BucketTelemetry = "telemetry"
	BucketEvents    = "events"
)

// keyLayout is fixed width so byte order matches time order.
const keyLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNoData is returned by Latest on an empty bucket.
var ErrNoData = errors.New("no data available")

// Recorder appends JSON records keyed by UTC timestamp.
type Recorder struct {
	db  *bbolt.DB
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Open creates or opens the recorder file at path.
func Open(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[recorder] failed to create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("[recorder] failed to open BoltDB: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range []string{BucketTelemetry, BucketEvents} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[recorder] failed to create buckets: %w", err)
	}
	return &Recorder{db: db, now: time.Now}, nil
}

// key returns a strictly increasing timestamp key.
func (r *Recorder) key() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Nanosecond)
	}
	r.last = t
	return []byte(t.Format(keyLayout))
}

// Record stores v as JSON in bucket.
func (r *Recorder) Record(bucket string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("[recorder] encode: %w", err)
	}
	k := r.key()
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put(k, body)
	})
}

// Latest returns the newest record of bucket and its time.
func (r *Recorder) Latest(bucket string) ([]byte, time.Time, error) {
	var (
		out []byte
		at  time.Time
	)
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrNoData
		}
		k, v := b.Cursor().Last()
		if v == nil {
			return ErrNoData
		}
		out = append([]byte(nil), v...)
		t, err := time.Parse(keyLayout, string(k))
		if err != nil {
			return fmt.Errorf("[recorder] bad key %q: %w", k, err)
		}
		at = t
		return nil
	})
	return out, at, err
}

// Count returns the number of records in bucket.
func (r *Recorder) Count(bucket string) int {
	n := 0
	_ = r.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(bucket)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
