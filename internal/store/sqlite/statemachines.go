package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qbloq/agentico/internal/model"
)

type StateMachineStore struct{ db *sql.DB }

func NewStateMachineStore(db *sql.DB) *StateMachineStore { return &StateMachineStore{db: db} }

func (s *StateMachineStore) FindActive(ctx context.Context, tenantID, name string) (*model.StateMachine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, initial_state, states FROM state_machines
		 WHERE tenant_id=? AND name=? AND active=1 ORDER BY version DESC LIMIT 1`, tenantID, name)
	return scanStateMachine(row, tenantID, true)
}

func (s *StateMachineStore) FindByName(ctx context.Context, tenantID, name string, version int) (*model.StateMachine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, initial_state, states, active FROM state_machines
		 WHERE tenant_id=? AND name=? AND version=?`, tenantID, name, version)
	return scanStateMachineWithActive(row, tenantID)
}

func scanStateMachine(row *sql.Row, tenantID string, active bool) (*model.StateMachine, error) {
	var (
		sm        model.StateMachine
		statesRaw []byte
	)
	if err := row.Scan(&sm.ID, &sm.Name, &sm.Version, &sm.InitialState, &statesRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("state machine: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan state machine: %w", err)
	}
	if err := json.Unmarshal(statesRaw, &sm.States); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	sm.TenantID, sm.Active = tenantID, active
	return &sm, nil
}

func scanStateMachineWithActive(row *sql.Row, tenantID string) (*model.StateMachine, error) {
	var (
		sm        model.StateMachine
		statesRaw []byte
		active    int
	)
	if err := row.Scan(&sm.ID, &sm.Name, &sm.Version, &sm.InitialState, &statesRaw, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("state machine: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan state machine: %w", err)
	}
	if err := json.Unmarshal(statesRaw, &sm.States); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	sm.TenantID, sm.Active = tenantID, active != 0
	return &sm, nil
}
