package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

// BufferStore implements store.MessageBufferStore over sqlite. Claims
// use the same conditional-update-on-null-sentinel pattern as the
// Postgres backend (internal/store/pg/buffer.go), generalized to ?
// placeholders and SQLite's single-writer semantics.
type BufferStore struct{ db *sql.DB }

func NewBufferStore(db *sql.DB) *BufferStore { return &BufferStore{db: db} }

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
		 VALUES (?,?,?,?,?,?,?,?,?,NULL,0,'')`,
		buf.ID, tenantID, buf.SessionKeyHash, string(buf.Channel.Kind), buf.Channel.EndpointID, buf.Channel.UserID,
		payloadJSON, now, scheduledAt); err != nil {
		return fmt.Errorf("insert buffered message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE message_buffer SET scheduled_process_at=?
		 WHERE tenant_id=? AND session_key_hash=? AND processing_started_at IS NULL AND id <> ?`,
		scheduledAt, tenantID, buf.SessionKeyHash, buf.ID); err != nil {
		return fmt.Errorf("reset buffer timer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	buf.ReceivedAt, buf.ScheduledProcessAt = now, scheduledAt
	return nil
}

func (s *BufferStore) GetMatureSessions(ctx context.Context, tenantID, endpointID string, now time.Time) ([]string, error) {
	query := `SELECT DISTINCT session_key_hash FROM message_buffer
	          WHERE tenant_id=? AND scheduled_process_at <= ?
	                AND processing_started_at IS NULL AND retry_count < ?`
	args := []any{tenantID, now, model.MaxRetries}
	if endpointID != "" {
		query += " AND endpoint_id = ?"
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

func (s *BufferStore) ClaimSession(ctx context.Context, tenantID, sessionKeyHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET processing_started_at=?
		 WHERE tenant_id=? AND session_key_hash=? AND processing_started_at IS NULL`,
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
		 FROM message_buffer WHERE tenant_id=? AND session_key_hash=? ORDER BY received_at ASC`,
		tenantID, sessionKeyHash)
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
	placeholders, idArgs := idPlaceholders(ids)
	query := fmt.Sprintf(`DELETE FROM message_buffer WHERE tenant_id=? AND id IN (%s)`, placeholders)
	args := append([]any{tenantID}, idArgs...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete buffered rows: %w", err)
	}
	return nil
}

func (s *BufferStore) MarkForRetry(ctx context.Context, tenantID string, ids []string, lastErr string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, idArgs := idPlaceholders(ids)
	query := fmt.Sprintf(`UPDATE message_buffer SET processing_started_at=NULL, retry_count=retry_count+1, last_error=?
		WHERE tenant_id=? AND id IN (%s)`, placeholders)
	args := append([]any{lastErr, tenantID}, idArgs...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark buffer retry: %w", err)
	}
	return nil
}

func (s *BufferStore) HasPendingMessages(ctx context.Context, tenantID, sessionKeyHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM message_buffer WHERE tenant_id=? AND session_key_hash=?`,
		tenantID, sessionKeyHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	return n > 0, nil
}

func (s *BufferStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET processing_started_at=NULL
		 WHERE processing_started_at IS NOT NULL AND processing_started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale buffer locks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// idPlaceholders renders len(ids) "?" placeholders and the matching
// argument slice — sqlite has no array-bind equivalent to Postgres's
// ANY($n).
func idPlaceholders(ids []string) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}
