package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
)

var _ rate.Store = (*RateStore)(nil)

// RateStore keeps limiter attempts in the rate_limits table. Admit
// serializes per key with a transaction-scoped advisory lock.
type RateStore struct {
	db *sql.DB
}

func (s *Store) RateStore() *RateStore {
	return &RateStore{db: s.db}
}

func (r *RateStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (rate.Window, error) {
	var w rate.Window
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return w, err
	}

	var oldest sql.NullTime
	if err := tx.QueryRowContext(ctx, `
		select count(*), min(attempted_at)
		from rate_limits
		where key = $1 and attempted_at >= $2
	`, key, now.Add(-window)).Scan(&w.Count, &oldest); err != nil {
		return w, err
	}
	w.Oldest = oldest.Time

	if w.Count < max {
		if _, err := tx.ExecContext(ctx, `insert into rate_limits (key, attempted_at) values ($1, $2)`, key, now); err != nil {
			return w, err
		}
		w.Admitted = true
	}
	return w, tx.Commit()
}

func (r *RateStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from rate_limits where attempted_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
