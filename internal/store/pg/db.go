// Package pg implements the store interfaces against Postgres using
// database/sql with the pgx stdlib driver, following the teacher's own
// choice of raw SQL over an ORM (internal/store/pg/sessions.go).
package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/qbloq/agentico/internal/store"
)

// OpenDB opens a pooled Postgres connection using the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores wires every Postgres-backed store implementation together
// (mirrors the teacher's internal/store/pg/factory.go NewPGStores).
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Tenants:       NewTenantStore(db),
		Contacts:      NewContactStore(db),
		Sessions:      NewSessionStore(db),
		Messages:      NewMessageStore(db),
		Buffer:        NewBufferStore(db),
		Escalations:   NewEscalationStore(db),
		Followups:     NewFollowupStore(db),
		StateMachines: NewStateMachineStore(db),
		Knowledge:     NewKnowledgeStore(db),
		Examples:      NewExampleStore(db),
		WorkerLocks:   NewWorkerLockStore(db),
		Deposits:      NewDepositStore(db),
	}
}
