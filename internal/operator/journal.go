// Package operator keeps the incident journal operators read when an agent
// could not complete a cycle.
package operator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
)

const bucketName = "incidents"

type Kind string

const (
	KindBilling  Kind = "billing"
	KindHardware Kind = "hardware"
	KindStorage  Kind = "storage"
)

type Incident struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Lane       string    `json:"lane,omitempty"`
	Plate      string    `json:"plate,omitempty"`
	Message    string    `json:"message"`
	ReportedAt time.Time `json:"reported_at"`
}

// Reporter is what agents call when a cycle fails.
type Reporter interface {
	Report(ctx context.Context, inc Incident) error
}

// Journal is an append-only bolt-backed Reporter.  Entries are keyed by the
// bucket sequence so cursor order is report order.
type Journal struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create incidents bucket: %w", err)
	}
	return &Journal{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Report(_ context.Context, inc Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.ReportedAt.IsZero() {
		inc.ReportedAt = j.now()
	}
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Recent returns up to n incidents, newest first.  n <= 0 returns all.
func (j *Journal) Recent(n int) ([]Incident, error) {
	out := []Incident{}
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) >= n {
				return nil
			}
			var inc Incident
			if err := json.Unmarshal(v, &inc); err != nil {
				return fmt.Errorf("decode incident %x: %w", k, err)
			}
			out = append(out, inc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Discard drops every report.
type Discard struct{}

func (Discard) Report(context.Context, Incident) error { return nil }

// Recorder keeps reports in memory.
type Recorder struct {
	mu        sync.Mutex
	incidents []Incident
}

func (r *Recorder) Report(_ context.Context, inc Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
	return nil
}

func (r *Recorder) All() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Incident, len(r.incidents))
	copy(out, r.incidents)
	return out
}

// ErrNoJournal is returned by handlers when no journal is configured.
var ErrNoJournal = errors.New("operator journal not configured")
