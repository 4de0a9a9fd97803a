package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ CounterStore = (*PGCounterStore)(nil)

// PGCounterStore implements CounterStore using PostgreSQL.
type PGCounterStore struct {
	db *sql.DB
}

func NewPGCounterStore(db *sql.DB) *PGCounterStore {
	return &PGCounterStore{db: db}
}

func (s *PGCounterStore) Find(ctx context.Context, scopeKey string) (*Counter, error) {
	row := s.db.QueryRowContext(ctx,
		`select scope_key, window_start, request_count, last_request_at
		 from rate_limit_counters where scope_key=$1`, scopeKey)
	var c Counter
	if err := row.Scan(&c.ScopeKey, &c.WindowStart, &c.RequestCount, &c.LastRequestAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *PGCounterStore) Upsert(ctx context.Context, c *Counter) error {
	_, err := s.db.ExecContext(ctx,
		`insert into rate_limit_counters(scope_key, window_start, request_count, last_request_at)
		 values($1,$2,$3,$4)
		 on conflict (scope_key) do update
		 set window_start=excluded.window_start,
		     request_count=excluded.request_count,
		     last_request_at=excluded.last_request_at`,
		c.ScopeKey, c.WindowStart, c.RequestCount, c.LastRequestAt,
	)
	return err
}

func (s *PGCounterStore) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from rate_limit_counters where window_start < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
