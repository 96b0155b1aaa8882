package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

// SessionStore implements store.SessionStore backed by Postgres, adapted
// from the teacher's PGSessionStore (internal/store/pg/sessions.go) —
// same raw-SQL, uuid.NewV7 style, generalized from a flat conversation
// blob to the session/contact/state-machine shape spec.md §3 requires.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore { return &SessionStore{db: db} }

func (s *SessionStore) FindByKey(ctx context.Context, tenantID string, ch model.ChannelTriple) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, kind, endpoint_id, user_id, current_state, previous_state,
		        context, status, escalated, last_message_at, created_at, updated_at
		 FROM sessions
		 WHERE tenant_id=$1 AND kind=$2 AND endpoint_id=$3 AND user_id=$4`,
		tenantID, string(ch.Kind), ch.EndpointID, ch.UserID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session for %v: %w", ch, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.TenantID = tenantID
	return sess, nil
}

func (s *SessionStore) FindByID(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, kind, endpoint_id, user_id, current_state, previous_state,
		        context, status, escalated, last_message_at, created_at, updated_at
		 FROM sessions WHERE tenant_id=$1 AND id=$2`, tenantID, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.TenantID = tenantID
	return sess, nil
}

// Create inserts a new session at the state machine's initial state
// (spec.md §4.1 step 1: "creates ... session if absent (session
// current-state = state-machine initial state)").
func (s *SessionStore) Create(ctx context.Context, tenantID string, ch model.ChannelTriple, contactID, initialState string) (*model.Session, error) {
	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, contact_id, kind, endpoint_id, user_id,
		        current_state, previous_state, context, status, escalated, last_message_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8,$9,false,$10,$10,$10)
		 ON CONFLICT (tenant_id, kind, endpoint_id, user_id) DO NOTHING`,
		id, tenantID, contactID, string(ch.Kind), ch.EndpointID, ch.UserID,
		initialState, []byte("{}"), model.SessionActive, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.FindByKey(ctx, tenantID, ch)
}

func (s *SessionStore) Update(ctx context.Context, tenantID string, sess *model.Session) error {
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET current_state=$1, previous_state=$2, context=$3, status=$4,
		        escalated=$5, last_message_at=$6, updated_at=$7
		 WHERE tenant_id=$8 AND id=$9`,
		sess.CurrentState, sess.PreviousState, ctxJSON, sess.Status,
		sess.Escalated, sess.LastMessageAt, time.Now().UTC(), tenantID, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var (
		sess     model.Session
		kind     string
		ctxJSON  []byte
	)
	if err := row.Scan(&sess.ID, &sess.ContactID, &kind, &sess.Channel.EndpointID, &sess.Channel.UserID,
		&sess.CurrentState, &sess.PreviousState, &ctxJSON, &sess.Status, &sess.Escalated,
		&sess.LastMessageAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Channel.Kind = model.ChannelKind(kind)
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &sess.Context)
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	return &sess, nil
}
