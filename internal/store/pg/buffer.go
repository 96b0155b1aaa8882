package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

// BufferStore implements store.MessageBufferStore: the debounce buffer
// (spec.md §4.3). Claims use the conditional-update-on-null-sentinel
// pattern the teacher uses for task claiming (internal/store/pg/teams_tasks.go
// ClaimTask) generalized to a per-session-key-hash mutex.
type BufferStore struct {
	db *sql.DB
}

func NewBufferStore(db *sql.DB) *BufferStore { return &BufferStore{db: db} }

// Add inserts a new buffered row and resets the timer on all other
// unclaimed rows for the same session-key hash (spec.md §4.3 Ingest).
func (s *BufferStore) Add(ctx context.Context, tenantID string, buf *model.BufferedMessage, delay time.Duration) error {
	payloadJSON, err := json.Marshal(buf.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	now := time.Now().UTC()
	scheduledAt := now.Add(delay)
	if buf.ID == "" {
		buf.ID = uuid.Must(uuid.NewV7()).String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_buffer (id, tenant_id, session_key_hash, kind, endpoint_id, user_id,
		        payload, received_at, scheduled_process_at, processing_started_at, retry_count, last_error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,0,'')`,
		buf.ID, tenantID, buf.SessionKeyHash, string(buf.Channel.Kind), buf.Channel.EndpointID, buf.Channel.UserID,
		payloadJSON, now, scheduledAt); err != nil {
		return fmt.Errorf("insert buffered message: %w", err)
	}

	// Reset the timer for every other unclaimed row of the same session
	// (spec.md §4.3: "resets the timer").
	if _, err := tx.ExecContext(ctx,
		`UPDATE message_buffer SET scheduled_process_at=$1
		 WHERE tenant_id=$2 AND session_key_hash=$3 AND processing_started_at IS NULL AND id <> $4`,
		scheduledAt, tenantID, buf.SessionKeyHash, buf.ID); err != nil {
		return fmt.Errorf("reset buffer timer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	buf.ReceivedAt, buf.ScheduledProcessAt = now, scheduledAt
	return nil
}

// GetMatureSessions returns distinct session-key hashes eligible to
// claim: scheduled_process_at <= now, unclaimed, under the retry ceiling
// (spec.md §4.3 Mature-session scan). endpointID filters by channel
// endpoint for sharding when non-empty.
func (s *BufferStore) GetMatureSessions(ctx context.Context, tenantID, endpointID string, now time.Time) ([]string, error) {
	query := `SELECT DISTINCT session_key_hash FROM message_buffer
	          WHERE tenant_id=$1 AND scheduled_process_at <= $2
	                AND processing_started_at IS NULL AND retry_count < $3`
	args := []any{tenantID, now, model.MaxRetries}
	if endpointID != "" {
		query += " AND endpoint_id = $4"
		args = append(args, endpointID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mature sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan session hash: %w", err)
		}
		out = append(out, hash)
	}
	return out, rows.Err()
}

// ClaimSession performs the conditional update that installs the
// per-session mutex: processing_started_at transitions from NULL to
// now only if no other claim holds it. Returns true iff the claim
// succeeded (spec.md §4.3 Claim, §5 "Claim" glossary entry).
func (s *BufferStore) ClaimSession(ctx context.Context, tenantID, sessionKeyHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET processing_started_at=$1
		 WHERE tenant_id=$2 AND session_key_hash=$3 AND processing_started_at IS NULL`,
		now, tenantID, sessionKeyHash)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *BufferStore) GetBySession(ctx context.Context, tenantID, sessionKeyHash string) ([]model.BufferedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, endpoint_id, user_id, payload, received_at, scheduled_process_at,
		        processing_started_at, retry_count, last_error
		 FROM message_buffer
		 WHERE tenant_id=$1 AND session_key_hash=$2
		 ORDER BY received_at ASC`, tenantID, sessionKeyHash)
	if err != nil {
		return nil, fmt.Errorf("query buffered rows: %w", err)
	}
	defer rows.Close()

	var out []model.BufferedMessage
	for rows.Next() {
		var (
			b         model.BufferedMessage
			kind      string
			payload   []byte
			startedAt sql.NullTime
		)
		if err := rows.Scan(&b.ID, &kind, &b.Channel.EndpointID, &b.Channel.UserID, &payload,
			&b.ReceivedAt, &b.ScheduledProcessAt, &startedAt, &b.RetryCount, &b.LastError); err != nil {
			return nil, fmt.Errorf("scan buffered row: %w", err)
		}
		b.TenantID, b.SessionKeyHash, b.Channel.Kind = tenantID, sessionKeyHash, model.ChannelKind(kind)
		if startedAt.Valid {
			t := startedAt.Time
			b.ProcessingStartedAt = &t
		}
		if err := json.Unmarshal(payload, &b.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BufferStore) DeleteByIDs(ctx context.Context, tenantID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM message_buffer WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, idsArray(ids))
	if err != nil {
		return fmt.Errorf("delete buffered rows: %w", err)
	}
	return nil
}

// MarkForRetry clears the claim, increments retry_count, and records
// the error, leaving rows past model.MaxRetries in place for operator
// review (spec.md §4.1 "dead-lettered ... for operator review").
func (s *BufferStore) MarkForRetry(ctx context.Context, tenantID string, ids []string, lastErr string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET processing_started_at=NULL, retry_count=retry_count+1, last_error=$1
		 WHERE tenant_id=$2 AND id = ANY($3)`, lastErr, tenantID, idsArray(ids))
	if err != nil {
		return fmt.Errorf("mark buffer retry: %w", err)
	}
	return nil
}

func (s *BufferStore) HasPendingMessages(ctx context.Context, tenantID, sessionKeyHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM message_buffer WHERE tenant_id=$1 AND session_key_hash=$2`,
		tenantID, sessionKeyHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	return n > 0, nil
}

// CleanupStaleLocks clears processing_started_at on rows whose claim is
// older than olderThan (spec.md §4.3 "stale-lock cleaner ... older than
// 5 minutes", §5 "Stale claims are swept after 5 minutes (items)").
func (s *BufferStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET processing_started_at=NULL
		 WHERE processing_started_at IS NOT NULL AND processing_started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale buffer locks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// idsArray renders a []string for use with Postgres ANY($n); pgx's
// stdlib driver accepts a pq-style array literal for text[].
func idsArray(ids []string) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "}"
}
