package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/bazelment/cursorbridge/storage"
)

// Sentinel errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidMode     = errors.New("invalid session mode")
)

// Mode selects how the agent treats a prompt.
type Mode string

const (
	ModeDefault Mode = "default"
	ModePlan    Mode = "plan"
)

// ParseMode validates s. An empty string selects ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModePlan:
		return ModePlan, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Session is a snapshot of one conversation's state. The Manager owns the
// live copy; values returned to callers are copies.
type Session struct {
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ID           string    `json:"id"`
	Cwd          string    `json:"cwd,omitempty"`
	Mode         Mode      `json:"mode"`
	ResumeID     string    `json:"resume_id,omitempty"`
	Model        string    `json:"model,omitempty"`
	Cancelled    bool      `json:"cancelled,omitempty"`
}

// Options configures a new session.
type Options struct {
	Cwd   string
	Mode  Mode
	Model string
}

// Patch lists fields to change in UpdateSession. Nil fields are left alone.
// The resume token is not patchable; use SetResumeID.
type Patch struct {
	Cwd       *string
	Mode      *Mode
	Model     *string
	Cancelled *bool
}

func (s *Session) toRecord() *storage.Record {
	return &storage.Record{
		ID:           s.ID,
		Cwd:          s.Cwd,
		Mode:         string(s.Mode),
		ResumeID:     s.ResumeID,
		Model:        s.Model,
		Cancelled:    s.Cancelled,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

func fromRecord(r *storage.Record) Session {
	mode, err := ParseMode(r.Mode)
	if err != nil {
		mode = ModeDefault
	}
	return Session{
		ID:           r.ID,
		Cwd:          r.Cwd,
		Mode:         mode,
		ResumeID:     r.ResumeID,
		Model:        r.Model,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	}
}
