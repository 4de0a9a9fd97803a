package ratelimit

import (
	"context"
	"errors"
	"time"

	"linkto.me/internal/config"
	"linkto.me/internal/obs"
)

// Endpoint classes used as the left half of counter scope keys.
const (
	ClassAuthAnonymous = "auth_anon"
	ClassSessionUser   = "session_user"
	ClassAPIKeyMinute  = "api_key_minute"
	ClassAPIUserDay    = "api_user_day"
)

// Result is the outcome of one limiter check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	// FailedOpen marks a decision taken because the counter store
	// errored. The request is admitted.
	FailedOpen bool
}

// Limiter counts requests in fixed, non-overlapping windows against a
// shared store.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// LimiterOption configures Limiter behavior.
type LimiterOption func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Limiter over the given counter store.
func New(store CounterStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or denies one request for (class, identifier) under a
// max-per-window policy. Any storage failure fails open: the request is
// allowed rather than blocking traffic on an infrastructure fault.
func (l *Limiter) Check(ctx context.Context, class, identifier string, max int, window time.Duration) Result {
	if max <= 0 {
		return Result{Allowed: true, Limit: max, Remaining: 0}
	}
	scopeKey := class + ":" + identifier
	now := l.now().UTC()

	counter, err := l.store.Find(ctx, scopeKey)
	switch {
	case errors.Is(err, ErrNotFound):
		counter = &Counter{ScopeKey: scopeKey, WindowStart: now, RequestCount: 1, LastRequestAt: now}
	case err != nil:
		return l.failOpen(class, scopeKey, max, err)
	case now.Sub(counter.WindowStart) >= window:
		counter.WindowStart = now
		counter.RequestCount = 1
		counter.LastRequestAt = now
	case counter.RequestCount >= max:
		obs.CountRateLimitDenied(class)
		return Result{
			Allowed:    false,
			Limit:      max,
			Remaining:  0,
			RetryAfter: window - now.Sub(counter.WindowStart),
		}
	default:
		counter.RequestCount++
		counter.LastRequestAt = now
	}

	if err := l.store.Upsert(ctx, counter); err != nil {
		return l.failOpen(class, scopeKey, max, err)
	}
	remaining := max - counter.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: max, Remaining: remaining}
}

// CheckAPITiers applies both tiered axes for an API key request: requests
// per key per minute and requests per owning user per day. Both must pass;
// a daily limit of -1 disables that axis.
func (l *Limiter) CheckAPITiers(ctx context.Context, keyID, ownerUserID string, tier config.TierLimit) Result {
	minute := l.Check(ctx, ClassAPIKeyMinute, keyID, tier.RequestsPerMinute, time.Minute)
	if !minute.Allowed {
		return minute
	}
	if tier.RequestsPerDay == -1 {
		return minute
	}
	day := l.Check(ctx, ClassAPIUserDay, ownerUserID, tier.RequestsPerDay, 24*time.Hour)
	if !day.Allowed {
		return day
	}
	// Report the tighter per-minute axis in response headers.
	return minute
}

// Sweep removes counters older than the longest window in use.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-25 * time.Hour)
	return l.store.DeleteStale(ctx, cutoff)
}

func (l *Limiter) failOpen(class, scopeKey string, max int, err error) Result {
	obs.LogError("rate limit store failure, failing open", err, map[string]any{
		"class": class,
		"scope": scopeKey,
	})
	return Result{Allowed: true, Limit: max, Remaining: max - 1, FailedOpen: true}
}
