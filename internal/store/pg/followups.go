package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/followup"
	"github.com/qbloq/agentico/internal/model"
)

// FollowupStore implements store.FollowupStore.
type FollowupStore struct {
	db *sql.DB
}

func NewFollowupStore(db *sql.DB) *FollowupStore { return &FollowupStore{db: db} }

// ScheduleNext inserts the next sequence step due after currentIndex,
// using the interval grammar parser (spec.md §4.4, §6).
func (s *FollowupStore) ScheduleNext(ctx context.Context, tenantID, sessionID, state string, currentIndex int, seq []model.FollowupStep) error {
	nextIndex := currentIndex + 1
	if currentIndex < 0 {
		nextIndex = 0
	}
	if nextIndex >= len(seq) {
		return nil
	}
	step := seq[nextIndex]
	d, err := followup.ParseInterval(step.Interval)
	if err != nil {
		return fmt.Errorf("parse followup interval %q: %w", step.Interval, err)
	}
	scheduledAt := time.Now().UTC().Add(d)
	id := uuid.Must(uuid.NewV7()).String()
	ftype := model.FollowupText
	if step.ConfigName != "" {
		ftype = model.FollowupTemplate
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO followup_queue (id, tenant_id, session_id, scheduled_at, type, config_name,
		        sequence_index, status, processing_started_at, sent_at, retry_count, last_error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,NULL,0,'')`,
		id, tenantID, sessionID, scheduledAt, ftype, step.ConfigName, nextIndex, model.FollowupPending)
	if err != nil {
		return fmt.Errorf("schedule followup: %w", err)
	}
	return nil
}

// CancelPending cancels every pending follow-up for a session — called
// on every inbound user reply before processing the turn (spec.md §4.4
// Cancellation).
func (s *FollowupStore) CancelPending(ctx context.Context, tenantID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE followup_queue SET status=$1 WHERE tenant_id=$2 AND session_id=$3 AND status=$4`,
		model.FollowupCancelled, tenantID, sessionID, model.FollowupPending)
	if err != nil {
		return fmt.Errorf("cancel pending followups: %w", err)
	}
	return nil
}

func (s *FollowupStore) DueItems(ctx context.Context, tenantID string, now time.Time) ([]model.FollowupQueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, scheduled_at, type, config_name, sequence_index, status, retry_count, last_error
		 FROM followup_queue
		 WHERE tenant_id=$1 AND status=$2 AND processing_started_at IS NULL AND scheduled_at <= $3`,
		tenantID, model.FollowupPending, now)
	if err != nil {
		return nil, fmt.Errorf("query due followups: %w", err)
	}
	defer rows.Close()

	var out []model.FollowupQueueItem
	for rows.Next() {
		var item model.FollowupQueueItem
		if err := rows.Scan(&item.ID, &item.SessionID, &item.ScheduledAt, &item.Type, &item.ConfigName,
			&item.SequenceIndex, &item.Status, &item.RetryCount, &item.LastError); err != nil {
			return nil, fmt.Errorf("scan followup item: %w", err)
		}
		item.TenantID = tenantID
		out = append(out, item)
	}
	return out, rows.Err()
}

// Claim performs the conditional update installing the per-item mutex.
func (s *FollowupStore) Claim(ctx context.Context, tenantID, itemID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followup_queue SET processing_started_at=$1
		 WHERE tenant_id=$2 AND id=$3 AND processing_started_at IS NULL AND status=$4`,
		now, tenantID, itemID, model.FollowupPending)
	if err != nil {
		return false, fmt.Errorf("claim followup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *FollowupStore) MarkSent(ctx context.Context, tenantID, itemID string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE followup_queue SET status=$1, sent_at=$2, processing_started_at=NULL
		 WHERE tenant_id=$3 AND id=$4`, model.FollowupSent, sentAt, tenantID, itemID)
	if err != nil {
		return fmt.Errorf("mark followup sent: %w", err)
	}
	return nil
}

func (s *FollowupStore) MarkFailed(ctx context.Context, tenantID, itemID, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE followup_queue SET processing_started_at=NULL, retry_count=retry_count+1, last_error=$1,
		        status=CASE WHEN retry_count+1 >= $2 THEN $3 ELSE status END
		 WHERE tenant_id=$4 AND id=$5`,
		errMsg, model.MaxRetries, model.FollowupFailed, tenantID, itemID)
	if err != nil {
		return fmt.Errorf("mark followup failed: %w", err)
	}
	return nil
}

func (s *FollowupStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE followup_queue SET processing_started_at=NULL
		 WHERE processing_started_at IS NOT NULL AND processing_started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale followup locks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *FollowupStore) GetConfig(ctx context.Context, tenantID, name string) (*model.FollowupConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, body, template_name FROM followup_configs WHERE tenant_id=$1 AND name=$2`,
		tenantID, name)
	var cfg model.FollowupConfig
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Type, &cfg.Body, &cfg.TemplateName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("followup config %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("scan followup config: %w", err)
	}
	cfg.TenantID = tenantID

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, type, value, prompt, field FROM followup_config_variables
		 WHERE tenant_id=$1 AND config_name=$2`, tenantID, name)
	if err != nil {
		return nil, fmt.Errorf("query followup variables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v model.FollowupVariable
		if err := rows.Scan(&v.Key, &v.Type, &v.Value, &v.Prompt, &v.Field); err != nil {
			return nil, fmt.Errorf("scan followup variable: %w", err)
		}
		cfg.Variables = append(cfg.Variables, v)
	}
	return &cfg, rows.Err()
}
