// Package storage persists session records. Backends are keyed by session
// id, enumerable and deletable; an unreadable record never aborts
// enumeration of the others.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Load when no record exists for the id.
var ErrNotFound = errors.New("record not found")

// Record is the durable form of a session.
type Record struct {
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ID           string    `json:"id"`
	Cwd          string    `json:"cwd,omitempty"`
	Mode         string    `json:"mode"`
	ResumeID     string    `json:"resume_id,omitempty"`
	Model        string    `json:"model,omitempty"`
	Cancelled    bool      `json:"cancelled,omitempty"`
}

// Store is the persistence contract consumed by the session manager.
type Store interface {
	// Save creates or replaces the record with r.ID.
	Save(ctx context.Context, r *Record) error
	// Load returns ErrNotFound if id is absent.
	Load(ctx context.Context, id string) (*Record, error)
	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// LoadAll returns every readable record. Corrupt records are skipped.
	LoadAll(ctx context.Context) ([]*Record, error)
	// CleanupStale deletes records whose last activity is before cutoff and
	// returns their ids.
	CleanupStale(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}

// Kind names a Store implementation.
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Open creates a Store of the given kind rooted at dir. dir is ignored by
// the memory backend.
func Open(ctx context.Context, kind Kind, dir string) (Store, error) {
	switch kind {
	case KindFile, "":
		s, err := NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindSQLite:
		s, err := NewSQLiteStore(ctx, dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

func validate(r *Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	return validateID(r.ID)
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("record ID is empty")
	}
	if strings.ContainsAny(id, `/\:`) || id == "." || id == ".." {
		return fmt.Errorf("invalid record ID %q", id)
	}
	return nil
}
