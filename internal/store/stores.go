// Package store defines the typed contracts the Conversation Engine,
// Debounce Pipeline, Follow-up Scheduler, and Worker Harness use to
// reach the transactional store, independent of its physical backend
// (Postgres in production, embedded sqlite in standalone/dev mode).
//
// Every method takes a tenantID as its first argument — the per-tenant
// data namespace is an explicit parameter threaded through every call,
// never ambient state (spec.md §9).
package store

import (
	"context"
	"time"

	"github.com/qbloq/agentico/internal/model"
)

// Stores aggregates every store interface behind one handle, mirroring
// the teacher's top-level Stores container (internal/store/stores.go).
type Stores struct {
	Tenants     TenantStore
	Contacts    ContactStore
	Sessions    SessionStore
	Messages    MessageStore
	Buffer      MessageBufferStore
	Escalations EscalationStore
	Followups   FollowupStore
	StateMachines StateMachineStore
	Knowledge   KnowledgeStore
	Examples    ExampleStore
	WorkerLocks WorkerLockStore
	Deposits    DepositStore
}

// TenantStore resolves a channel identifier to a tenant and loads config.
type TenantStore interface {
	FindByChannelID(ctx context.Context, kind model.ChannelKind, channelID string) (*model.TenantConfig, error)
	FindByID(ctx context.Context, tenantID string) (*model.TenantConfig, error)
	ListActive(ctx context.Context) ([]model.TenantConfig, error)
	Upsert(ctx context.Context, cfg *model.TenantConfig) error
}

// ContactStore manages Contact and ContactIdentity records.
type ContactStore interface {
	FindOrCreateByChannelUser(ctx context.Context, tenantID string, kind model.ChannelKind, channelUser string) (*model.Contact, error)
	FindByID(ctx context.Context, tenantID, contactID string) (*model.Contact, error)
	Update(ctx context.Context, tenantID string, c *model.Contact) error
	Delete(ctx context.Context, tenantID, contactID string) error
}

// SessionStore manages Session records.
type SessionStore interface {
	FindByKey(ctx context.Context, tenantID string, ch model.ChannelTriple) (*model.Session, error)
	FindByID(ctx context.Context, tenantID, sessionID string) (*model.Session, error)
	Create(ctx context.Context, tenantID string, ch model.ChannelTriple, contactID, initialState string) (*model.Session, error)
	Update(ctx context.Context, tenantID string, s *model.Session) error
}

// MessageStore appends and reads Message history.
type MessageStore interface {
	GetRecent(ctx context.Context, tenantID, sessionID string, limit int) ([]model.Message, error)
	Save(ctx context.Context, tenantID, sessionID string, msg *model.Message) error
}

// MessageBufferStore manages the debounce buffer (spec.md §4.3).
type MessageBufferStore interface {
	Add(ctx context.Context, tenantID string, buf *model.BufferedMessage, delay time.Duration) error
	GetMatureSessions(ctx context.Context, tenantID string, endpointID string, now time.Time) ([]string, error)
	ClaimSession(ctx context.Context, tenantID, sessionKeyHash string, now time.Time) (bool, error)
	GetBySession(ctx context.Context, tenantID, sessionKeyHash string) ([]model.BufferedMessage, error)
	DeleteByIDs(ctx context.Context, tenantID string, ids []string) error
	MarkForRetry(ctx context.Context, tenantID string, ids []string, lastErr string) error
	HasPendingMessages(ctx context.Context, tenantID, sessionKeyHash string) (bool, error)
	CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error)
}

// EscalationStore manages human hand-off records (idempotent create).
type EscalationStore interface {
	Create(ctx context.Context, tenantID string, e *model.Escalation) (*model.Escalation, error)
	HasActive(ctx context.Context, tenantID, sessionID string) (bool, error)
	Resolve(ctx context.Context, tenantID, escalationID string) error
}

// FollowupStore manages the follow-up queue and per-tenant template registry.
type FollowupStore interface {
	ScheduleNext(ctx context.Context, tenantID, sessionID, state string, currentIndex int, seq []model.FollowupStep) error
	CancelPending(ctx context.Context, tenantID, sessionID string) error
	DueItems(ctx context.Context, tenantID string, now time.Time) ([]model.FollowupQueueItem, error)
	Claim(ctx context.Context, tenantID, itemID string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, tenantID, itemID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, tenantID, itemID, errMsg string) error
	CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error)
	GetConfig(ctx context.Context, tenantID, name string) (*model.FollowupConfig, error)
}

// StateMachineStore loads tenant-authored state graphs.
type StateMachineStore interface {
	FindActive(ctx context.Context, tenantID, name string) (*model.StateMachine, error)
	FindByName(ctx context.Context, tenantID, name string, version int) (*model.StateMachine, error)
}

// KnowledgeStore retrieves RAG knowledge entries.
type KnowledgeStore interface {
	FindSimilar(ctx context.Context, embedding []float32, k int, categories []string) ([]model.KnowledgeEntry, error)
	FindByCategory(ctx context.Context, category string, k int) ([]model.KnowledgeEntry, error)
	FindByTags(ctx context.Context, tags []string, k int) ([]model.KnowledgeEntry, error)
}

// ExampleStore retrieves few-shot conversation examples.
type ExampleStore interface {
	FindByState(ctx context.Context, state string, k int) ([]model.ConversationExample, error)
	FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.ConversationExample, error)
}

// WorkerLockStore manages the singleton per-worker TTL lock row.
type WorkerLockStore interface {
	Acquire(ctx context.Context, name string, ttl time.Duration, now time.Time) (bool, error)
	Release(ctx context.Context, name string) error
}

// DepositStore records confirmed-deposit side effects (SPEC_FULL.md §3).
type DepositStore interface {
	Record(ctx context.Context, tenantID string, d *model.DepositEvent) error
}
