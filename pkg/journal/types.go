package journal

import (
	"context"
	"time"
)

// Status is the outcome of handing a bundle to the engine.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Session is one engine lifetime, from Open to Close.
type Session struct {
	ID         string     `json:"id"`
	SampleRate int        `json:"sample_rate"`
	BlockSize  int        `json:"block_size"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Entry is one journaled bundle.
type Entry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Sequence   int64     `json:"sequence"`
	Timetag    uint64    `json:"timetag"`
	Messages   int       `json:"messages"`
	Bytes      int       `json:"bytes"`
	Addresses  []string  `json:"addresses"`
	Status     Status    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Filter selects journal entries. Nil fields match everything.
type Filter struct {
	SessionID *string
	Status    *Status
	Limit     int
	Offset    int
}

// Store persists sessions and bundles.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	OpenSession(ctx context.Context, session *Session) error
	CloseSession(ctx context.Context, id string, at time.Time) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)

	RecordBundle(ctx context.Context, entry *Entry) error
	ListBundles(ctx context.Context, filter Filter) ([]*Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
}
