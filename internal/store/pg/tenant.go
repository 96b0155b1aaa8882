package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qbloq/agentico/internal/model"
)

// TenantStore resolves channel identifiers to tenants (spec.md §3 Tenant config).
type TenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *TenantStore { return &TenantStore{db: db} }

func (s *TenantStore) FindByChannelID(ctx context.Context, kind model.ChannelKind, channelID string) (*model.TenantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.namespace, t.storage_bucket, t.active_state_machine, t.llm_provider,
		        t.debounce_enabled, t.debounce_delay_ms, t.escalation_enabled, t.escalation_notify_to,
		        t.business_metadata, t.rate_limit_rps, t.rate_limit_burst, t.created_at, t.updated_at,
		        c.channel_id, c.access_token, c.app_secret, c.webhook_verify_token, c.api_base_url
		 FROM tenants t
		 JOIN tenant_channel_credentials c ON c.tenant_id = t.id
		 WHERE c.kind = $1 AND c.channel_id = $2`,
		string(kind), channelID)
	return scanTenant(row, kind)
}

func (s *TenantStore) FindByID(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.namespace, t.storage_bucket, t.active_state_machine, t.llm_provider,
		        t.debounce_enabled, t.debounce_delay_ms, t.escalation_enabled, t.escalation_notify_to,
		        t.business_metadata, t.rate_limit_rps, t.rate_limit_burst, t.created_at, t.updated_at,
		        c.kind, c.channel_id, c.access_token, c.app_secret, c.webhook_verify_token, c.api_base_url
		 FROM tenants t
		 LEFT JOIN tenant_channel_credentials c ON c.tenant_id = t.id
		 WHERE t.id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	defer rows.Close()

	var cfg *model.TenantConfig
	for rows.Next() {
		var (
			metaJSON                                                []byte
			kindStr, channelID, accessToken, appSecret, verifyTok, base sql.NullString
		)
		if cfg == nil {
			cfg = &model.TenantConfig{ChannelCredentials: map[model.ChannelKind]model.ChannelCredential{}}
		}
		var delayMs int64
		if err := rows.Scan(&cfg.ID, &cfg.Namespace, &cfg.StorageBucket, &cfg.ActiveStateMachine, &cfg.LLMProvider,
			&cfg.DebounceEnabled, &delayMs, &cfg.EscalationEnabled, &cfg.EscalationNotifyTo,
			&metaJSON, &cfg.RateLimitRPS, &cfg.RateLimitBurst, &cfg.CreatedAt, &cfg.UpdatedAt,
			&kindStr, &channelID, &accessToken, &appSecret, &verifyTok, &base); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		cfg.DebounceDelay = time.Duration(delayMs) * time.Millisecond
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &cfg.BusinessMetadata)
		}
		if kindStr.Valid {
			k := model.ChannelKind(kindStr.String)
			cfg.ChannelCredentials[k] = model.ChannelCredential{
				Kind: k, ChannelID: channelID.String, AccessToken: accessToken.String,
				AppSecret: appSecret.String, WebhookVerifyTok: verifyTok.String, APIBaseURL: base.String,
			}
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return cfg, nil
}

// ListActive returns every tenant with its channel credentials, for the
// worker process to enumerate (tenant, channel kind, endpoint) triples
// to run the debounce scan against.
func (s *TenantStore) ListActive(ctx context.Context) ([]model.TenantConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.namespace, t.storage_bucket, t.active_state_machine, t.llm_provider,
		        t.debounce_enabled, t.debounce_delay_ms, t.escalation_enabled, t.escalation_notify_to,
		        t.business_metadata, t.rate_limit_rps, t.rate_limit_burst, t.created_at, t.updated_at,
		        c.kind, c.channel_id, c.access_token, c.app_secret, c.webhook_verify_token, c.api_base_url
		 FROM tenants t
		 LEFT JOIN tenant_channel_credentials c ON c.tenant_id = t.id
		 ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	byID := map[string]*model.TenantConfig{}
	var order []string
	for rows.Next() {
		var (
			id, namespace, bucket, machine, provider, notifyTo                string
			metaJSON                                                         []byte
			debounceEnabled, escalationEnabled                               bool
			delayMs                                                          int64
			rps                                                              float64
			burst                                                            int
			createdAt, updatedAt                                             time.Time
			kindStr, channelID, accessToken, appSecret, verifyTok, base      sql.NullString
		)
		if err := rows.Scan(&id, &namespace, &bucket, &machine, &provider,
			&debounceEnabled, &delayMs, &escalationEnabled, &notifyTo,
			&metaJSON, &rps, &burst, &createdAt, &updatedAt,
			&kindStr, &channelID, &accessToken, &appSecret, &verifyTok, &base); err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}

		cfg, ok := byID[id]
		if !ok {
			cfg = &model.TenantConfig{
				ID: id, Namespace: namespace, StorageBucket: bucket, ActiveStateMachine: machine,
				LLMProvider: provider, DebounceEnabled: debounceEnabled,
				DebounceDelay: time.Duration(delayMs) * time.Millisecond,
				EscalationEnabled: escalationEnabled, EscalationNotifyTo: notifyTo,
				RateLimitRPS: rps, RateLimitBurst: burst, CreatedAt: createdAt, UpdatedAt: updatedAt,
				ChannelCredentials: map[model.ChannelKind]model.ChannelCredential{},
			}
			if len(metaJSON) > 0 {
				_ = json.Unmarshal(metaJSON, &cfg.BusinessMetadata)
			}
			byID[id] = cfg
			order = append(order, id)
		}
		if kindStr.Valid {
			k := model.ChannelKind(kindStr.String)
			cfg.ChannelCredentials[k] = model.ChannelCredential{
				Kind: k, ChannelID: channelID.String, AccessToken: accessToken.String,
				AppSecret: appSecret.String, WebhookVerifyTok: verifyTok.String, APIBaseURL: base.String,
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.TenantConfig, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
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
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
		   namespace = EXCLUDED.namespace, storage_bucket = EXCLUDED.storage_bucket,
		   active_state_machine = EXCLUDED.active_state_machine, llm_provider = EXCLUDED.llm_provider,
		   debounce_enabled = EXCLUDED.debounce_enabled, debounce_delay_ms = EXCLUDED.debounce_delay_ms,
		   escalation_enabled = EXCLUDED.escalation_enabled, escalation_notify_to = EXCLUDED.escalation_notify_to,
		   business_metadata = EXCLUDED.business_metadata, rate_limit_rps = EXCLUDED.rate_limit_rps,
		   rate_limit_burst = EXCLUDED.rate_limit_burst, updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.Namespace, cfg.StorageBucket, cfg.ActiveStateMachine, cfg.LLMProvider,
		cfg.DebounceEnabled, cfg.DebounceDelay.Milliseconds(), cfg.EscalationEnabled, cfg.EscalationNotifyTo,
		metaJSON, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.CreatedAt, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}

	for kind, cred := range cfg.ChannelCredentials {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenant_channel_credentials (tenant_id, kind, channel_id, access_token, app_secret, webhook_verify_token, api_base_url)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT (tenant_id, kind) DO UPDATE SET
			   channel_id = EXCLUDED.channel_id, access_token = EXCLUDED.access_token,
			   app_secret = EXCLUDED.app_secret, webhook_verify_token = EXCLUDED.webhook_verify_token,
			   api_base_url = EXCLUDED.api_base_url`,
			cfg.ID, string(kind), cred.ChannelID, cred.AccessToken, cred.AppSecret, cred.WebhookVerifyTok, cred.APIBaseURL); err != nil {
			return fmt.Errorf("upsert channel credential %s: %w", kind, err)
		}
	}

	return tx.Commit()
}

func scanTenant(row *sql.Row, kind model.ChannelKind) (*model.TenantConfig, error) {
	var (
		cfg      model.TenantConfig
		metaJSON []byte
		delayMs  int64
		cred     model.ChannelCredential
	)
	cfg.ChannelCredentials = map[model.ChannelKind]model.ChannelCredential{}
	err := row.Scan(&cfg.ID, &cfg.Namespace, &cfg.StorageBucket, &cfg.ActiveStateMachine, &cfg.LLMProvider,
		&cfg.DebounceEnabled, &delayMs, &cfg.EscalationEnabled, &cfg.EscalationNotifyTo,
		&metaJSON, &cfg.RateLimitRPS, &cfg.RateLimitBurst, &cfg.CreatedAt, &cfg.UpdatedAt,
		&cred.ChannelID, &cred.AccessToken, &cred.AppSecret, &cred.WebhookVerifyTok, &cred.APIBaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant for channel %s: %w", kind, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	cfg.DebounceDelay = time.Duration(delayMs) * time.Millisecond
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &cfg.BusinessMetadata)
	}
	cred.Kind = kind
	cfg.ChannelCredentials[kind] = cred
	return &cfg, nil
}

// ErrNotFound is returned when a store lookup finds no matching row.
var ErrNotFound = errors.New("not found")
