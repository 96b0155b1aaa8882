// Package tenant resolves an inbound channel identifier to a tenant's
// runtime configuration and caches the result, replacing the teacher's
// single-process static Config (internal/config/config_load.go) with a
// store-resident, per-tenant registry — spec.md §9 Open Question OQ-1
// ("Global mutable state ... Replace with explicit construction") rules
// out a process-global config; this registry is constructed once per
// process and passed explicitly to callers instead.
package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/store"
)

// defaultCacheTTL bounds how long a resolved TenantConfig is trusted
// before the registry re-reads it from the store, so config edits
// (disabling debounce, rotating a channel credential) propagate without
// a process restart.
const defaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	cfg       *model.TenantConfig
	expiresAt time.Time
}

// Registry resolves tenants by channel identity or id, cached in
// process memory with a bounded TTL. Safe for concurrent use.
type Registry struct {
	store store.TenantStore
	ttl   time.Duration

	mu         sync.RWMutex
	byChannel  map[string]cacheEntry // key: kind|channelID
	byTenantID map[string]cacheEntry
}

func NewRegistry(tenants store.TenantStore) *Registry {
	return &Registry{
		store:      tenants,
		ttl:        defaultCacheTTL,
		byChannel:  make(map[string]cacheEntry),
		byTenantID: make(map[string]cacheEntry),
	}
}

// WithTTL overrides the default cache TTL, exposed mainly for tests.
func (r *Registry) WithTTL(ttl time.Duration) *Registry {
	r.ttl = ttl
	return r
}

func channelKey(kind model.ChannelKind, channelID string) string {
	return string(kind) + "|" + channelID
}

// ResolveByChannel maps an inbound webhook's (kind, channel endpoint id)
// to the owning tenant, consulting the cache before the store.
func (r *Registry) ResolveByChannel(ctx context.Context, kind model.ChannelKind, channelID string) (*model.TenantConfig, error) {
	key := channelKey(kind, channelID)

	r.mu.RLock()
	entry, ok := r.byChannel[key]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := r.store.FindByChannelID(ctx, kind, channelID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant for channel %s/%s: %w", kind, channelID, err)
	}

	r.cache(cfg)
	return cfg, nil
}

// ResolveByID loads a tenant by its own id, used when the caller already
// knows the tenant (e.g. the worker harness iterating tenants).
func (r *Registry) ResolveByID(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	r.mu.RLock()
	entry, ok := r.byTenantID[tenantID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := r.store.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}

	r.cache(cfg)
	return cfg, nil
}

// cache stores cfg under its own tenant id and every channel credential
// it carries, so a lookup by either path hits warm afterward.
func (r *Registry) cache(cfg *model.TenantConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expires := time.Now().Add(r.ttl)
	r.byTenantID[cfg.ID] = cacheEntry{cfg: cfg, expiresAt: expires}
	for kind, cred := range cfg.ChannelCredentials {
		r.byChannel[channelKey(kind, cred.ChannelID)] = cacheEntry{cfg: cfg, expiresAt: expires}
	}
}

// Invalidate drops a tenant from both caches, used after a credential
// rotation or config edit so the next resolve re-reads the store.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.byTenantID[tenantID]; ok {
		for kind, cred := range entry.cfg.ChannelCredentials {
			delete(r.byChannel, channelKey(kind, cred.ChannelID))
		}
	}
	delete(r.byTenantID, tenantID)
}
