package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

// EscalationStore implements store.EscalationStore. Create is
// idempotent: if a non-terminal escalation already exists for the
// session, its id is returned instead of inserting a duplicate
// (spec.md §3 invariant, §7 "idempotency conflicts ... treat as
// success with existing id").
type EscalationStore struct {
	db *sql.DB
}

func NewEscalationStore(db *sql.DB) *EscalationStore { return &EscalationStore{db: db} }

func (s *EscalationStore) Create(ctx context.Context, tenantID string, e *model.Escalation) (*model.Escalation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM escalations
		 WHERE tenant_id=$1 AND session_id=$2 AND status IN ($3,$4,$5)
		 FOR UPDATE`,
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
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		e.ID, tenantID, e.SessionID, e.Reason, e.Priority, e.Status,
		e.AssignedTo, e.AISummary, e.AIConfidence, now); err != nil {
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
		`SELECT count(*) FROM escalations
		 WHERE tenant_id=$1 AND session_id=$2 AND status IN ($3,$4,$5)`,
		tenantID, sessionID, model.EscalationOpen, model.EscalationAssigned, model.EscalationInProgress,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check active escalation: %w", err)
	}
	return n > 0, nil
}

func (s *EscalationStore) Resolve(ctx context.Context, tenantID, escalationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status=$1, updated_at=$2 WHERE tenant_id=$3 AND id=$4`,
		model.EscalationResolved, time.Now().UTC(), tenantID, escalationID)
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}
	return nil
}
