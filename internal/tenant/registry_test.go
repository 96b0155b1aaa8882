package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qbloq/agentico/internal/model"
)

type fakeTenantStore struct {
	byChannel map[string]*model.TenantConfig
	byID      map[string]*model.TenantConfig
	calls     int
}

func (f *fakeTenantStore) FindByChannelID(_ context.Context, kind model.ChannelKind, channelID string) (*model.TenantConfig, error) {
	f.calls++
	cfg, ok := f.byChannel[channelKey(kind, channelID)]
	if !ok {
		return nil, errors.New("not found")
	}
	return cfg, nil
}

func (f *fakeTenantStore) FindByID(_ context.Context, tenantID string) (*model.TenantConfig, error) {
	f.calls++
	cfg, ok := f.byID[tenantID]
	if !ok {
		return nil, errors.New("not found")
	}
	return cfg, nil
}

func (f *fakeTenantStore) ListActive(context.Context) ([]model.TenantConfig, error) { return nil, nil }

func (f *fakeTenantStore) Upsert(context.Context, *model.TenantConfig) error { return nil }

func newFakeStore() *fakeTenantStore {
	cfg := &model.TenantConfig{
		ID: "tenant-1",
		ChannelCredentials: map[model.ChannelKind]model.ChannelCredential{
			model.ChannelWhatsApp: {Kind: model.ChannelWhatsApp, ChannelID: "pn-123"},
		},
	}
	return &fakeTenantStore{
		byChannel: map[string]*model.TenantConfig{channelKey(model.ChannelWhatsApp, "pn-123"): cfg},
		byID:      map[string]*model.TenantConfig{"tenant-1": cfg},
	}
}

func TestResolveByChannelCachesResult(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs)

	cfg, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "pn-123")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if cfg.ID != "tenant-1" {
		t.Fatalf("unexpected tenant %q", cfg.ID)
	}
	if fs.calls != 1 {
		t.Fatalf("expected 1 store call, got %d", fs.calls)
	}

	if _, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "pn-123"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected cache hit to avoid a second store call, got %d calls", fs.calls)
	}
}

func TestResolveByIDAlsoWarmsChannelCache(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs)

	if _, err := reg.ResolveByID(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected 1 store call, got %d", fs.calls)
	}

	if _, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "pn-123"); err != nil {
		t.Fatalf("resolve by channel: %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected channel resolve to hit the warmed cache, got %d calls", fs.calls)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs).WithTTL(10 * time.Millisecond)

	if _, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "pn-123"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "pn-123"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if fs.calls != 2 {
		t.Fatalf("expected expired cache to trigger a second store call, got %d", fs.calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs)

	if _, err := reg.ResolveByID(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	reg.Invalidate("tenant-1")

	if _, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "pn-123"); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if fs.calls != 2 {
		t.Fatalf("expected invalidate to force a refetch, got %d calls", fs.calls)
	}
}

func TestResolveByChannelNotFound(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs)

	if _, err := reg.ResolveByChannel(context.Background(), model.ChannelWhatsApp, "unknown"); err == nil {
		t.Error("expected error for unknown channel id")
	}
}
