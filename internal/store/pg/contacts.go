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

// ContactStore implements store.ContactStore backed by Postgres.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore { return &ContactStore{db: db} }

// FindOrCreateByChannelUser resolves a channel user id to a Contact,
// creating both the contact and its identity row if absent. The
// (tenant, channel kind, channel user id) uniqueness invariant (spec.md
// §3) is enforced by a unique index on tenant_id, kind, channel_user.
func (s *ContactStore) FindOrCreateByChannelUser(ctx context.Context, tenantID string, kind model.ChannelKind, channelUser string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.first_name, c.last_name, c.phone, c.language, c.timezone,
		        c.registered, c.deposit_confirmed, c.lifetime_value, c.metadata, c.created_at, c.updated_at
		 FROM contacts c
		 JOIN contact_identities ci ON ci.contact_id = c.id
		 WHERE ci.tenant_id = $1 AND ci.kind = $2 AND ci.channel_user = $3`,
		tenantID, string(kind), channelUser)

	contact, err := scanContact(row)
	if err == nil {
		contact.TenantID = tenantID
		return contact, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contacts (id, tenant_id, phone, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		id, tenantID, channelUser, []byte("{}"), now); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contact_identities (contact_id, tenant_id, kind, channel_user)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, kind, channel_user) DO NOTHING`,
		id, tenantID, string(kind), channelUser); err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &model.Contact{
		ID: id, TenantID: tenantID, Phone: channelUser,
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *ContactStore) FindByID(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, phone, language, timezone,
		        registered, deposit_confirmed, lifetime_value, metadata, created_at, updated_at
		 FROM contacts WHERE tenant_id = $1 AND id = $2`, tenantID, contactID)
	c, err := scanContact(row)
	if err != nil {
		return nil, err
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
		`UPDATE contacts SET first_name=$1, last_name=$2, phone=$3, language=$4, timezone=$5,
		        registered=$6, deposit_confirmed=$7, lifetime_value=$8, metadata=$9, updated_at=$10
		 WHERE tenant_id=$11 AND id=$12`,
		c.FirstName, c.LastName, c.Phone, c.Language, c.Timezone,
		c.Registered, c.DepositConfirmed, c.LifetimeValue, metaJSON, time.Now().UTC(),
		tenantID, c.ID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func (s *ContactStore) Delete(ctx context.Context, tenantID, contactID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE tenant_id=$1 AND id=$2`, tenantID, contactID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

func scanContact(row *sql.Row) (*model.Contact, error) {
	var (
		c        model.Contact
		metaJSON []byte
	)
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Language, &c.Timezone,
		&c.Registered, &c.DepositConfirmed, &c.LifetimeValue, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &c.Metadata)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c, nil
}
