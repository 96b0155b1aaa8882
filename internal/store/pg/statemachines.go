package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qbloq/agentico/internal/model"
)

// StateMachineStore implements store.StateMachineStore. State machines
// are normally loaded from tenant-authored JSON5 files (internal/statemachine)
// but are cached here for tenants that manage them through the store
// instead of the filesystem (spec.md §3, §4.6 hot-reload note).
type StateMachineStore struct {
	db *sql.DB
}

func NewStateMachineStore(db *sql.DB) *StateMachineStore { return &StateMachineStore{db: db} }

// FindActive returns the highest-versioned active machine named name for
// tenantID (TenantConfig.ActiveStateMachine names which one that is).
func (s *StateMachineStore) FindActive(ctx context.Context, tenantID, name string) (*model.StateMachine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, initial_state, states FROM state_machines
		 WHERE tenant_id=$1 AND name=$2 AND active=true ORDER BY version DESC LIMIT 1`, tenantID, name)
	return scanStateMachine(row, tenantID, true)
}

func (s *StateMachineStore) FindByName(ctx context.Context, tenantID, name string, version int) (*model.StateMachine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, initial_state, states, active FROM state_machines
		 WHERE tenant_id=$1 AND name=$2 AND version=$3`, tenantID, name, version)
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
	)
	if err := row.Scan(&sm.ID, &sm.Name, &sm.Version, &sm.InitialState, &statesRaw, &sm.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("state machine: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan state machine: %w", err)
	}
	if err := json.Unmarshal(statesRaw, &sm.States); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	sm.TenantID = tenantID
	return &sm, nil
}
