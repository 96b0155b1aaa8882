package sqlite

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

type SessionStore struct{ db *sql.DB }

func NewSessionStore(db *sql.DB) *SessionStore { return &SessionStore{db: db} }

func (s *SessionStore) FindByKey(ctx context.Context, tenantID string, ch model.ChannelTriple) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, kind, endpoint_id, user_id, current_state, previous_state,
		        context, status, escalated, last_message_at, created_at, updated_at
		 FROM sessions WHERE tenant_id=? AND kind=? AND endpoint_id=? AND user_id=?`,
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
		 FROM sessions WHERE tenant_id=? AND id=?`, tenantID, sessionID)
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

func (s *SessionStore) Create(ctx context.Context, tenantID string, ch model.ChannelTriple, contactID, initialState string) (*model.Session, error) {
	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, tenant_id, contact_id, kind, endpoint_id, user_id,
		        current_state, previous_state, context, status, escalated, last_message_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,'',?,?,0,?,?,?)`,
		id, tenantID, contactID, string(ch.Kind), ch.EndpointID, ch.UserID,
		initialState, "{}", model.SessionActive, now, now, now)
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
		`UPDATE sessions SET current_state=?, previous_state=?, context=?, status=?,
		        escalated=?, last_message_at=?, updated_at=?
		 WHERE tenant_id=? AND id=?`,
		sess.CurrentState, sess.PreviousState, ctxJSON, sess.Status,
		boolToInt(sess.Escalated), sess.LastMessageAt, time.Now().UTC(), tenantID, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var (
		sess       model.Session
		kind       string
		ctxJSON    []byte
		escalated  int
	)
	if err := row.Scan(&sess.ID, &sess.ContactID, &kind, &sess.Channel.EndpointID, &sess.Channel.UserID,
		&sess.CurrentState, &sess.PreviousState, &ctxJSON, &sess.Status, &escalated,
		&sess.LastMessageAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Channel.Kind = model.ChannelKind(kind)
	sess.Escalated = escalated != 0
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &sess.Context)
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	return &sess, nil
}
