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

type ContactStore struct{ db *sql.DB }

func NewContactStore(db *sql.DB) *ContactStore { return &ContactStore{db: db} }

func (s *ContactStore) FindOrCreateByChannelUser(ctx context.Context, tenantID string, kind model.ChannelKind, channelUser string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.first_name, c.last_name, c.phone, c.language, c.timezone, c.registered,
		        c.deposit_confirmed, c.lifetime_value, c.metadata, c.created_at, c.updated_at
		 FROM contacts c JOIN contact_identities i ON i.contact_id = c.id
		 WHERE i.tenant_id = ? AND i.kind = ? AND i.channel_user = ?`, tenantID, string(kind), channelUser)
	contact, err := scanContact(row)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan contact: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contacts (id, tenant_id, metadata, created_at, updated_at) VALUES (?,?,?,?,?)`,
		id, tenantID, "{}", now, now); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO contact_identities (contact_id, tenant_id, kind, channel_user) VALUES (?,?,?,?)`,
		id, tenantID, string(kind), channelUser); err != nil {
		return nil, fmt.Errorf("insert contact identity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &model.Contact{ID: id, TenantID: tenantID, Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *ContactStore) FindByID(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, phone, language, timezone, registered,
		        deposit_confirmed, lifetime_value, metadata, created_at, updated_at
		 FROM contacts WHERE tenant_id = ? AND id = ?`, tenantID, contactID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", contactID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c.TenantID = tenantID
	return c, nil
}

func (s *ContactStore) Update(ctx context.Context, tenantID string, c *model.Contact) error {
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE contacts SET first_name=?, last_name=?, phone=?, language=?, timezone=?, registered=?,
		        deposit_confirmed=?, lifetime_value=?, metadata=?, updated_at=?
		 WHERE tenant_id=? AND id=?`,
		c.FirstName, c.LastName, c.Phone, c.Language, c.Timezone, boolToInt(c.Registered),
		boolToInt(c.DepositConfirmed), c.LifetimeValue, metaJSON, time.Now().UTC(), tenantID, c.ID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func (s *ContactStore) Delete(ctx context.Context, tenantID, contactID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contact_identities WHERE tenant_id=? AND contact_id=?`, tenantID, contactID); err != nil {
		return fmt.Errorf("delete contact identities: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE tenant_id=? AND id=?`, tenantID, contactID); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

func scanContact(row *sql.Row) (*model.Contact, error) {
	var (
		c          model.Contact
		registered int
		deposit    int
		metaJSON   []byte
	)
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Language, &c.Timezone, &registered,
		&deposit, &c.LifetimeValue, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Registered, c.DepositConfirmed = registered != 0, deposit != 0
	c.Metadata = map[string]any{}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &c.Metadata)
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
