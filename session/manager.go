// Package session owns the table of conversation sessions: creation, lookup,
// mutation, cancellation flags, resume tokens and stale eviction.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/cursorbridge/storage"
)

// entry guards one session. Operations on different ids never contend.
type entry struct {
	mu      sync.Mutex
	s       Session
	deleted bool
}

// Manager holds sessions in memory, writing through to a storage.Store.
type Manager struct {
	store    storage.Store
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	sessions sync.Map // id -> *entry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager backed by store.
func NewManager(store storage.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads every durable record. Cancellation flags are transient
// and always come back false.
func (m *Manager) Initialize(ctx context.Context) error {
	records, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	for _, r := range records {
		s := fromRecord(r)
		m.sessions.Store(s.ID, &entry{s: s})
	}
	m.logger.Debug("loaded sessions", "count", len(records))
	return nil
}

// CreateSession allocates a fresh id and persists the session before
// returning it.
func (m *Manager) CreateSession(ctx context.Context, opts Options) (Session, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return Session{}, err
	}
	now := m.now()
	s := Session{
		ID:           m.newID(),
		Cwd:          opts.Cwd,
		Mode:         mode,
		Model:        opts.Model,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.store.Save(ctx, s.toRecord()); err != nil {
		return Session{}, fmt.Errorf("failed to persist session: %w", err)
	}
	m.sessions.Store(s.ID, &entry{s: s})
	m.logger.Debug("created session", "session_id", s.ID, "mode", s.Mode)
	return s, nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return v.(*entry), nil
}

// withEntry runs fn with the session's lock held.
func (m *Manager) withEntry(id string, fn func(e *entry) error) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(e)
}

// GetSession returns a copy of the session.
func (m *Manager) GetSession(id string) (Session, error) {
	var s Session
	err := m.withEntry(id, func(e *entry) error {
		s = e.s
		return nil
	})
	return s, err
}

// UpdateSession merges p, refreshes last activity and persists. On a
// storage failure the in-memory session is left unchanged.
func (m *Manager) UpdateSession(ctx context.Context, id string, p Patch) (Session, error) {
	var out Session
	err := m.withEntry(id, func(e *entry) error {
		next := e.s
		if p.Mode != nil {
			mode, err := ParseMode(string(*p.Mode))
			if err != nil {
				return err
			}
			next.Mode = mode
		}
		if p.Cwd != nil {
			next.Cwd = *p.Cwd
		}
		if p.Model != nil {
			next.Model = *p.Model
		}
		if p.Cancelled != nil {
			next.Cancelled = *p.Cancelled
		}
		next.LastActivity = m.now()

		if err := m.store.Save(ctx, next.toRecord()); err != nil {
			return fmt.Errorf("failed to persist session %s: %w", id, err)
		}
		e.s = next
		out = next
		return nil
	})
	return out, err
}

// DeleteSession removes the session from memory and storage.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	err := m.withEntry(id, func(e *entry) error {
		if err := m.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		e.deleted = true
		m.sessions.Delete(id)
		return nil
	})
	if err == nil {
		m.logger.Debug("deleted session", "session_id", id)
	}
	return err
}

// CleanupStale evicts sessions idle for longer than retentionDays, in
// memory and in storage, and returns the evicted ids.
func (m *Manager) CleanupStale(ctx context.Context, retentionDays int) ([]string, error) {
	cutoff := m.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	removed := make(map[string]bool)
	m.sessions.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if !e.deleted && e.s.LastActivity.Before(cutoff) {
			e.deleted = true
			m.sessions.Delete(key)
			removed[e.s.ID] = true
		}
		e.mu.Unlock()
		return true
	})

	stored, err := m.store.CleanupStale(ctx, cutoff)
	for _, id := range stored {
		removed[id] = true
	}

	ids := make([]string, 0, len(removed))
	for id := range removed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		m.logger.Info("evicted stale sessions", "count", len(ids), "retention_days", retentionDays)
	}
	if err != nil {
		return ids, fmt.Errorf("failed to clean up stored sessions: %w", err)
	}
	return ids, nil
}

// List returns copies of every session, most recently active first.
func (m *Manager) List() []Session {
	var out []Session
	m.sessions.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.s)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// MarkCancelled flags the session's current turn as cancelled.
func (m *Manager) MarkCancelled(id string) error {
	return m.withEntry(id, func(e *entry) error {
		e.s.Cancelled = true
		return nil
	})
}

// ClearCancelled resets the flag before a new turn.
func (m *Manager) ClearCancelled(id string) error {
	return m.withEntry(id, func(e *entry) error {
		e.s.Cancelled = false
		return nil
	})
}

// IsCancelled reports the flag; unknown sessions are not cancelled.
func (m *Manager) IsCancelled(id string) bool {
	var cancelled bool
	_ = m.withEntry(id, func(e *entry) error {
		cancelled = e.s.Cancelled
		return nil
	})
	return cancelled
}

// SetResumeID records the subprocess-issued resume token. The first
// non-empty token wins; later calls return false and change nothing.
func (m *Manager) SetResumeID(id, token string) (bool, error) {
	var set bool
	err := m.withEntry(id, func(e *entry) error {
		if token == "" || e.s.ResumeID != "" {
			return nil
		}
		e.s.ResumeID = token
		set = true
		return nil
	})
	return set, err
}

// CanResume reports whether a later turn can continue this conversation.
func (m *Manager) CanResume(id string) bool {
	return m.ResumeID(id) != ""
}

// ResumeID returns the resume token, or "" if none.
func (m *Manager) ResumeID(id string) string {
	var token string
	_ = m.withEntry(id, func(e *entry) error {
		token = e.s.ResumeID
		return nil
	})
	return token
}
