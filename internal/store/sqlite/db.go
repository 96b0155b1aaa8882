// Package sqlite implements the store interfaces against an embedded
// modernc.org/sqlite database, generalized from the teacher's file-based
// standalone store (internal/store/file) — a flat JSON file can't
// express the conditional-update claim semantics the debounce buffer
// and follow-up queue need, so standalone/dev mode gets a real embedded
// database instead.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/qbloq/agentico/internal/store"
)

// OpenDB opens (creating if absent) the sqlite database at path and
// applies the schema if it has not been applied yet.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers; avoid pool contention on locks
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// NewStores wires every sqlite-backed store implementation together,
// mirroring pg.NewStores.
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

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	storage_bucket TEXT NOT NULL DEFAULT '',
	active_state_machine TEXT NOT NULL DEFAULT '',
	llm_provider TEXT NOT NULL DEFAULT '',
	debounce_enabled INTEGER NOT NULL DEFAULT 0,
	debounce_delay_ms INTEGER NOT NULL DEFAULT 0,
	escalation_enabled INTEGER NOT NULL DEFAULT 0,
	escalation_notify_to TEXT NOT NULL DEFAULT '',
	business_metadata TEXT NOT NULL DEFAULT '{}',
	rate_limit_rps REAL NOT NULL DEFAULT 0,
	rate_limit_burst INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS tenant_channel_credentials (
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	kind TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	access_token TEXT NOT NULL DEFAULT '',
	app_secret TEXT NOT NULL DEFAULT '',
	webhook_verify_tok TEXT NOT NULL DEFAULT '',
	api_base_url TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_tcc_channel ON tenant_channel_credentials(kind, channel_id);

CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	registered INTEGER NOT NULL DEFAULT 0,
	deposit_confirmed INTEGER NOT NULL DEFAULT 0,
	lifetime_value REAL NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS contact_identities (
	contact_id TEXT NOT NULL REFERENCES contacts(id),
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	channel_user TEXT NOT NULL,
	PRIMARY KEY (tenant_id, kind, channel_user)
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	endpoint_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	current_state TEXT NOT NULL,
	previous_state TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	escalated INTEGER NOT NULL DEFAULT 0,
	last_message_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (tenant_id, kind, endpoint_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	transcription TEXT NOT NULL DEFAULT '',
	image_analysis TEXT NOT NULL DEFAULT '',
	template_name TEXT NOT NULL DEFAULT '',
	platform_msg_id TEXT NOT NULL DEFAULT '',
	delivery_status TEXT NOT NULL DEFAULT '',
	reply_to_message_id TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(tenant_id, session_id, created_at);

CREATE TABLE IF NOT EXISTS message_buffer (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_key_hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	endpoint_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	received_at DATETIME NOT NULL,
	scheduled_process_at DATETIME NOT NULL,
	processing_started_at DATETIME,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_buffer_mature ON message_buffer(tenant_id, scheduled_process_at, processing_started_at);

CREATE TABLE IF NOT EXISTS escalations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	ai_summary TEXT NOT NULL DEFAULT '',
	ai_confidence REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS followup_configs (
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	template_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, name)
);
CREATE TABLE IF NOT EXISTS followup_config_variables (
	tenant_id TEXT NOT NULL,
	config_name TEXT NOT NULL,
	key TEXT NOT NULL,
	type TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	field TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS followup_queue (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	scheduled_at DATETIME NOT NULL,
	type TEXT NOT NULL,
	config_name TEXT NOT NULL DEFAULT '',
	sequence_index INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	processing_started_at DATETIME,
	sent_at DATETIME,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_followup_due ON followup_queue(tenant_id, status, processing_started_at, scheduled_at);

CREATE TABLE IF NOT EXISTS state_machines (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	initial_state TEXT NOT NULL,
	states TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	answer TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	related_articles TEXT NOT NULL DEFAULT '[]',
	embedding TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS conversation_examples (
	id TEXT PRIMARY KEY,
	scenario TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT '',
	primary_state TEXT NOT NULL DEFAULT '',
	state_flow TEXT NOT NULL DEFAULT '[]',
	messages TEXT NOT NULL DEFAULT '[]',
	embedding TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS worker_locks (
	name TEXT PRIMARY KEY,
	locked_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS deposit_events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	amount REAL NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`
