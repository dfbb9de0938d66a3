package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON file per session under a directory.
type FileStore struct {
	logger *slog.Logger
	dir    string
	mu     sync.RWMutex
}

// DefaultDir returns ~/.cursorbridge/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cursorbridge", "sessions"), nil
}

// NewFileStore creates a FileStore. An empty dir selects DefaultDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir, logger: slog.Default()}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes r atomically via a temp file and rename.
func (s *FileStore) Save(_ context.Context, r *Record) error {
	if err := validate(r); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(r.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id string) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.read(s.path(id), id)
}

func (s *FileStore) read(path, id string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	if r.ID == "" {
		r.ID = id
	}
	return &r, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// LoadAll reads every *.json file in the directory, logging and skipping
// files that cannot be read or parsed.
func (s *FileStore) LoadAll(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadAllLocked(ctx)
}

func (s *FileStore) loadAllLocked(ctx context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		r, err := s.read(filepath.Join(s.dir, entry.Name()), id)
		if err != nil {
			s.logger.Warn("skipping unreadable session record", "id", id, "error", err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *FileStore) CleanupStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadAllLocked(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, r := range records {
		if !r.LastActivity.Before(cutoff) {
			continue
		}
		if err := os.Remove(s.path(r.ID)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove stale session record", "id", r.ID, "error", err)
			continue
		}
		removed = append(removed, r.ID)
	}
	return removed, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
