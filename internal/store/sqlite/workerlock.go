package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WorkerLockStore implements store.WorkerLockStore over sqlite. SQLite's
// single-writer model means the upsert-then-check pattern used for
// Postgres is unnecessary contention; a plain read-then-write inside a
// transaction is enough since no other writer can interleave.
type WorkerLockStore struct{ db *sql.DB }

func NewWorkerLockStore(db *sql.DB) *WorkerLockStore { return &WorkerLockStore{db: db} }

func (s *WorkerLockStore) Acquire(ctx context.Context, name string, ttl time.Duration, now time.Time) (bool, error) {
	expiresAt := now.Add(ttl)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentExpiry time.Time
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM worker_locks WHERE name=?`, name).Scan(&currentExpiry)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("read worker lock: %w", err)
	}
	if err == nil && currentExpiry.After(now) {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO worker_locks (name, locked_at, expires_at) VALUES (?,?,?)
		 ON CONFLICT(name) DO UPDATE SET locked_at=excluded.locked_at, expires_at=excluded.expires_at`,
		name, now, expiresAt); err != nil {
		return false, fmt.Errorf("acquire worker lock: %w", err)
	}
	return true, tx.Commit()
}

func (s *WorkerLockStore) Release(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM worker_locks WHERE name=?`, name)
	if err != nil {
		return fmt.Errorf("release worker lock: %w", err)
	}
	return nil
}
