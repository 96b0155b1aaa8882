package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

// EscalationStore implements store.EscalationStore over sqlite.
// SQLite serializes all writers, so the existence check and insert
// need no explicit row lock the way Postgres's FOR UPDATE provides —
// the surrounding transaction already excludes concurrent writers.
type EscalationStore struct{ db *sql.DB }

func NewEscalationStore(db *sql.DB) *EscalationStore { return &EscalationStore{db: db} }

func (s *EscalationStore) Create(ctx context.Context, tenantID string, e *model.Escalation) (*model.Escalation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM escalations WHERE tenant_id=? AND session_id=? AND status IN (?,?,?)`,
		tenantID, e.SessionID, model.EscalationOpen, model.EscalationAssigned, model.EscalationInProgress,
	).Scan(&existingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		e.ID = existingID
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing escalation: %w", err)
	}

	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.Status == "" {
		e.Status = model.EscalationOpen
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO escalations (id, tenant_id, session_id, reason, priority, status,
		        assigned_to, ai_summary, ai_confidence, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, tenantID, e.SessionID, e.Reason, e.Priority, e.Status,
		e.AssignedTo, e.AISummary, e.AIConfidence, now, now); err != nil {
		return nil, fmt.Errorf("insert escalation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return e, nil
}

func (s *EscalationStore) HasActive(ctx context.Context, tenantID, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM escalations WHERE tenant_id=? AND session_id=? AND status IN (?,?,?)`,
		tenantID, sessionID, model.EscalationOpen, model.EscalationAssigned, model.EscalationInProgress,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check active escalation: %w", err)
	}
	return n > 0, nil
}

func (s *EscalationStore) Resolve(ctx context.Context, tenantID, escalationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status=?, updated_at=? WHERE tenant_id=? AND id=?`,
		model.EscalationResolved, time.Now().UTC(), tenantID, escalationID)
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}
	return nil
}
