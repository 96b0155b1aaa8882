package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

// DepositStore implements store.DepositStore (SPEC_FULL.md §3 expansion:
// explicit DepositEvent entity backing the LLM-reported deposit_confirmed
// intent, spec.md §4.1 step 5/7).
type DepositStore struct {
	db *sql.DB
}

func NewDepositStore(db *sql.DB) *DepositStore { return &DepositStore{db: db} }

func (s *DepositStore) Record(ctx context.Context, tenantID string, d *model.DepositEvent) error {
	if d.ID == "" {
		d.ID = uuid.Must(uuid.NewV7()).String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deposit_events (id, tenant_id, session_id, contact_id, amount, currency, reasoning, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, tenantID, d.SessionID, d.ContactID, d.Amount, d.Currency, d.Reasoning, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("record deposit: %w", err)
	}
	return nil
}
