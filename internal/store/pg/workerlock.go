package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WorkerLockStore implements store.WorkerLockStore: the singleton TTL
// lock row gating each background worker (spec.md §4.5 "Worker harness").
type WorkerLockStore struct {
	db *sql.DB
}

func NewWorkerLockStore(db *sql.DB) *WorkerLockStore { return &WorkerLockStore{db: db} }

// Acquire upserts the named lock row, succeeding only if no lock is held
// or the held lock has expired (spec.md §4.5 "a single worker instance
// ever runs at a time across the fleet").
func (s *WorkerLockStore) Acquire(ctx context.Context, name string, ttl time.Duration, now time.Time) (bool, error) {
	expiresAt := now.Add(ttl)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO worker_locks (name, locked_at, expires_at) VALUES ($1,$2,$3)
		 ON CONFLICT (name) DO UPDATE SET locked_at=$2, expires_at=$3
		 WHERE worker_locks.expires_at < $2`,
		name, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire worker lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *WorkerLockStore) Release(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM worker_locks WHERE name=$1`, name)
	if err != nil {
		return fmt.Errorf("release worker lock: %w", err)
	}
	return nil
}
