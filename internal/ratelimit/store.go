package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no counter exists yet for a scope key.
var ErrNotFound = errors.New("ratelimit: counter not found")

// Counter is one fixed-window count, keyed by endpoint class plus
// identifier. Created lazily on first request in a window.
type Counter struct {
	ScopeKey      string
	WindowStart   time.Time
	RequestCount  int
	LastRequestAt time.Time
}

// CounterStore persists window counters. Writes are upsert-style keyed by
// scope key; concurrent read-then-write races are tolerated, the limiter
// gives a soft guarantee.
type CounterStore interface {
	Find(ctx context.Context, scopeKey string) (*Counter, error)
	Upsert(ctx context.Context, c *Counter) error
	// DeleteStale removes counters whose window started before the cutoff.
	DeleteStale(ctx context.Context, olderThan time.Time) (int64, error)
}
