package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qbloq/agentico/internal/model"
)

// ErrNotFound mirrors pg.ErrNotFound for the standalone backend.
var ErrNotFound = errors.New("not found")

type TenantStore struct{ db *sql.DB }

func NewTenantStore(db *sql.DB) *TenantStore { return &TenantStore{db: db} }

func (s *TenantStore) FindByChannelID(ctx context.Context, kind model.ChannelKind, channelID string) (*model.TenantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.id FROM tenants t
		 JOIN tenant_channel_credentials c ON c.tenant_id = t.id
		 WHERE c.kind = ? AND c.channel_id = ?`, string(kind), channelID)
	var tenantID string
	if err := row.Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant for channel %s/%s: %w", kind, channelID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan tenant id: %w", err)
	}
	return s.FindByID(ctx, tenantID)
}

func (s *TenantStore) FindByID(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, namespace, storage_bucket, active_state_machine, llm_provider,
		        debounce_enabled, debounce_delay_ms, escalation_enabled, escalation_notify_to,
		        business_metadata, rate_limit_rps, rate_limit_burst, created_at, updated_at
		 FROM tenants WHERE id = ?`, tenantID)

	var (
		tc          model.TenantConfig
		metaJSON    []byte
		debounceMs  int64
		debounceOn  int
		escalateOn  int
	)
	if err := row.Scan(&tc.ID, &tc.Namespace, &tc.StorageBucket, &tc.ActiveStateMachine, &tc.LLMProvider,
		&debounceOn, &debounceMs, &escalateOn, &tc.EscalationNotifyTo,
		&metaJSON, &tc.RateLimitRPS, &tc.RateLimitBurst, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	tc.DebounceEnabled = debounceOn != 0
	tc.EscalationEnabled = escalateOn != 0
	tc.DebounceDelay = time.Duration(debounceMs) * time.Millisecond
	tc.BusinessMetadata = map[string]string{}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &tc.BusinessMetadata)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, channel_id, access_token, app_secret, webhook_verify_tok, api_base_url
		 FROM tenant_channel_credentials WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query channel credentials: %w", err)
	}
	defer rows.Close()

	tc.ChannelCredentials = map[model.ChannelKind]model.ChannelCredential{}
	for rows.Next() {
		var kind string
		var cred model.ChannelCredential
		if err := rows.Scan(&kind, &cred.ChannelID, &cred.AccessToken, &cred.AppSecret,
			&cred.WebhookVerifyTok, &cred.APIBaseURL); err != nil {
			return nil, fmt.Errorf("scan channel credential: %w", err)
		}
		cred.Kind = model.ChannelKind(kind)
		tc.ChannelCredentials[cred.Kind] = cred
	}
	return &tc, rows.Err()
}

// ListActive returns every tenant with its channel credentials, for the
// worker process to enumerate (tenant, channel kind, endpoint) triples
// to run the debounce scan against.
func (s *TenantStore) ListActive(ctx context.Context) ([]model.TenantConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenant ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]model.TenantConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load tenant %s: %w", id, err)
		}
		out = append(out, *cfg)
	}
	return out, nil
}

// Upsert creates or replaces a tenant row and its channel credentials,
// used by the tenant onboarding CLI.
func (s *TenantStore) Upsert(ctx context.Context, cfg *model.TenantConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tenant upsert: %w", err)
	}
	defer tx.Rollback()

	metaJSON, err := json.Marshal(cfg.BusinessMetadata)
	if err != nil {
		return fmt.Errorf("marshal business metadata: %w", err)
	}

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants (id, namespace, storage_bucket, active_state_machine, llm_provider,
		                      debounce_enabled, debounce_delay_ms, escalation_enabled, escalation_notify_to,
		                      business_metadata, rate_limit_rps, rate_limit_burst, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET
		   namespace = excluded.namespace, storage_bucket = excluded.storage_bucket,
		   active_state_machine = excluded.active_state_machine, llm_provider = excluded.llm_provider,
		   debounce_enabled = excluded.debounce_enabled, debounce_delay_ms = excluded.debounce_delay_ms,
		   escalation_enabled = excluded.escalation_enabled, escalation_notify_to = excluded.escalation_notify_to,
		   business_metadata = excluded.business_metadata, rate_limit_rps = excluded.rate_limit_rps,
		   rate_limit_burst = excluded.rate_limit_burst, updated_at = excluded.updated_at`,
		cfg.ID, cfg.Namespace, cfg.StorageBucket, cfg.ActiveStateMachine, cfg.LLMProvider,
		cfg.DebounceEnabled, cfg.DebounceDelay.Milliseconds(), cfg.EscalationEnabled, cfg.EscalationNotifyTo,
		metaJSON, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.CreatedAt, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}

	for kind, cred := range cfg.ChannelCredentials {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenant_channel_credentials (tenant_id, kind, channel_id, access_token, app_secret, webhook_verify_tok, api_base_url)
			 VALUES (?,?,?,?,?,?,?)
			 ON CONFLICT (tenant_id, kind) DO UPDATE SET
			   channel_id = excluded.channel_id, access_token = excluded.access_token,
			   app_secret = excluded.app_secret, webhook_verify_tok = excluded.webhook_verify_tok,
			   api_base_url = excluded.api_base_url`,
			cfg.ID, string(kind), cred.ChannelID, cred.AccessToken, cred.AppSecret, cred.WebhookVerifyTok, cred.APIBaseURL); err != nil {
			return fmt.Errorf("upsert channel credential %s: %w", kind, err)
		}
	}

	return tx.Commit()
}
