package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"linkto.me/internal/config"
)

type memCounterStore struct {
	counters map[string]*Counter
	findErr  error
	upErr    error
}

func newMemCounterStore() *memCounterStore {
	return &memCounterStore{counters: make(map[string]*Counter)}
}

func (m *memCounterStore) Find(ctx context.Context, scopeKey string) (*Counter, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.counters[scopeKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCounterStore) Upsert(ctx context.Context, c *Counter) error {
	if m.upErr != nil {
		return m.upErr
	}
	cp := *c
	m.counters[c.ScopeKey] = &cp
	return nil
}

func (m *memCounterStore) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for key, c := range m.counters {
		if c.WindowStart.Before(olderThan) {
			delete(m.counters, key)
			n++
		}
	}
	return n, nil
}

func TestCheckCountsWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemCounterStore()
	limiter := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := limiter.Check(ctx, ClassAuthAnonymous, "203.0.113.9", 5, time.Minute)
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Remaining != 5-(i+1) {
			t.Fatalf("request %d: remaining %d, want %d", i+1, res.Remaining, 5-(i+1))
		}
	}

	res := limiter.Check(ctx, ClassAuthAnonymous, "203.0.113.9", 5, time.Minute)
	if res.Allowed {
		t.Fatal("sixth request must be denied")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry-after: %v", res.RetryAfter)
	}
}

func TestCheckWindowReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemCounterStore()
	limiter := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, ClassSessionUser, "user-1", 3, time.Minute)
	}
	if res := limiter.Check(ctx, ClassSessionUser, "user-1", 3, time.Minute); res.Allowed {
		t.Fatal("expected denial at the limit")
	}

	now = now.Add(time.Minute)
	res := limiter.Check(ctx, ClassSessionUser, "user-1", 3, time.Minute)
	if !res.Allowed {
		t.Fatal("window elapsed, request must be allowed again")
	}
	if res.Remaining != 2 {
		t.Fatalf("fresh window remaining %d, want 2", res.Remaining)
	}
}

func TestCheckScopesAreIndependent(t *testing.T) {
	store := newMemCounterStore()
	limiter := New(store)
	ctx := context.Background()

	limiter.Check(ctx, ClassAuthAnonymous, "ip-a", 1, time.Minute)
	if res := limiter.Check(ctx, ClassAuthAnonymous, "ip-a", 1, time.Minute); res.Allowed {
		t.Fatal("ip-a at limit must be denied")
	}
	if res := limiter.Check(ctx, ClassAuthAnonymous, "ip-b", 1, time.Minute); !res.Allowed {
		t.Fatal("ip-b has its own counter")
	}
	if res := limiter.Check(ctx, ClassSessionUser, "ip-a", 1, time.Minute); !res.Allowed {
		t.Fatal("same identifier under another class has its own counter")
	}
}

func TestCheckFailsOpenOnStoreErrors(t *testing.T) {
	store := newMemCounterStore()
	limiter := New(store)
	ctx := context.Background()

	store.findErr = errors.New("connection refused")
	res := limiter.Check(ctx, ClassAuthAnonymous, "203.0.113.9", 5, time.Minute)
	if !res.Allowed || !res.FailedOpen {
		t.Fatalf("find failure must fail open, got %+v", res)
	}

	store.findErr = nil
	store.upErr = errors.New("connection refused")
	res = limiter.Check(ctx, ClassAuthAnonymous, "203.0.113.9", 5, time.Minute)
	if !res.Allowed || !res.FailedOpen {
		t.Fatalf("upsert failure must fail open, got %+v", res)
	}
}

func TestCheckAPITiersBothAxes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemCounterStore()
	limiter := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	tier := config.TierLimit{RequestsPerMinute: 10, RequestsPerDay: 3}
	for i := 0; i < 3; i++ {
		if res := limiter.CheckAPITiers(ctx, "key-1", "user-1", tier); !res.Allowed {
			t.Fatalf("request %d should pass both axes", i+1)
		}
	}
	// Minute budget still has room; the daily budget is exhausted.
	res := limiter.CheckAPITiers(ctx, "key-1", "user-1", tier)
	if res.Allowed {
		t.Fatal("daily axis must deny the fourth request")
	}

	// A second key owned by the same user shares the daily counter.
	if res := limiter.CheckAPITiers(ctx, "key-2", "user-1", tier); res.Allowed {
		t.Fatal("daily axis is keyed by owner, not key")
	}
}

func TestCheckAPITiersUnlimitedDay(t *testing.T) {
	store := newMemCounterStore()
	limiter := New(store)
	ctx := context.Background()

	tier := config.TierLimit{RequestsPerMinute: 2, RequestsPerDay: -1}
	for i := 0; i < 2; i++ {
		if res := limiter.CheckAPITiers(ctx, "key-1", "user-1", tier); !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if res := limiter.CheckAPITiers(ctx, "key-1", "user-1", tier); res.Allowed {
		t.Fatal("minute axis still applies with unlimited day")
	}
	if _, ok := store.counters[ClassAPIUserDay+":user-1"]; ok {
		t.Fatal("unlimited day axis must not touch the store")
	}
}

func TestSweepRemovesStaleCounters(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := newMemCounterStore()
	limiter := New(store, WithClock(func() time.Time { return now }))

	store.counters["old"] = &Counter{ScopeKey: "old", WindowStart: now.Add(-26 * time.Hour)}
	store.counters["fresh"] = &Counter{ScopeKey: "fresh", WindowStart: now.Add(-time.Hour)}

	n, err := limiter.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 counter swept, got %d", n)
	}
	if _, ok := store.counters["fresh"]; !ok {
		t.Fatal("fresh counter must survive")
	}
}
