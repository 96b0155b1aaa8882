package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/channels/discord"
	"github.com/qbloq/agentico/internal/channels/telegram"
	"github.com/qbloq/agentico/internal/channels/whatsapp"
	"github.com/qbloq/agentico/internal/config"
	"github.com/qbloq/agentico/internal/engine"
	"github.com/qbloq/agentico/internal/followup"
	"github.com/qbloq/agentico/internal/llm"
	"github.com/qbloq/agentico/internal/notify"
	"github.com/qbloq/agentico/internal/opsstream"
	"github.com/qbloq/agentico/internal/rag"
	"github.com/qbloq/agentico/internal/store"
	"github.com/qbloq/agentico/internal/store/pg"
	"github.com/qbloq/agentico/internal/store/sqlite"
	"github.com/qbloq/agentico/internal/tenant"
)

// deps bundles the components every process role (serve, worker)
// builds identically from config, so the two commands stay in lockstep
// on store driver, channel registry, and engine wiring.
type deps struct {
	cfg       *config.Config
	db        *sql.DB
	stores    *store.Stores
	tenants   *tenant.Registry
	channels  *channels.Registry
	engine    *engine.Engine
	followups *followup.Scheduler
	ops       *opsstream.Hub
}

func buildDeps(cfg *config.Config) (*deps, error) {
	db, stores, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := channels.NewRegistry()
	registry.Register(whatsapp.New(whatsapp.Config{}))
	registry.Register(telegram.New())
	registry.Register(discord.New())

	llmProvider := buildLLMProvider(cfg)
	sched := followup.NewScheduler(stores.Followups)
	hub := opsstream.NewHub(func(r *http.Request) bool { return true })

	eng := engine.New(engine.Deps{
		Stores:    stores,
		LLM:       llmProvider,
		RAG:       buildRAG(cfg, stores),
		Media:     nil, // no concrete transcription/vision/blob provider (spec.md Non-goals)
		Notify:    buildNotifySink(cfg),
		Followups: sched,
		Ops:       hub,
	})

	return &deps{
		cfg:       cfg,
		db:        db,
		stores:    stores,
		tenants:   tenant.NewRegistry(stores.Tenants),
		channels:  registry,
		engine:    eng,
		followups: sched,
		ops:       hub,
	}, nil
}

func openStore(cfg *config.Config) (*sql.DB, *store.Stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := pg.OpenDB(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return db, pg.NewStores(db), nil
	case "sqlite":
		path := cfg.Store.DSN
		if path == "" {
			path = "agentico.db"
		}
		db, err := sqlite.OpenDB(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return db, sqlite.NewStores(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildLLMProvider(cfg *config.Config) llm.Provider {
	switch cfg.LLM.Provider {
	case "anthropic":
		var opts []llm.AnthropicOption
		if cfg.LLM.Model != "" {
			opts = append(opts, llm.WithModel(cfg.LLM.Model))
		}
		if cfg.LLM.MaxTokens > 0 {
			opts = append(opts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.LLM.BaseURL))
		}
		return llm.NewBreakerProvider(llm.NewAnthropicProvider(cfg.LLM.APIKey, opts...), "anthropic")
	default:
		slog.Warn("unknown llm provider, falling back to anthropic default", "provider", cfg.LLM.Provider)
		return llm.NewBreakerProvider(llm.NewAnthropicProvider(cfg.LLM.APIKey), "anthropic")
	}
}

func buildRAG(cfg *config.Config, stores *store.Stores) *rag.Retriever {
	if cfg.Embedding.APIKey == "" {
		slog.Warn("no embedding API key configured, RAG retrieval disabled")
		return nil
	}
	embedder := llm.NewOpenAIEmbeddingProvider(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	}
	return rag.New(embedder, stores.Knowledge, stores.Examples, cache)
}

func buildNotifySink(cfg *config.Config) notify.Sink {
	if token := os.Getenv("AGENTICO_SLACK_TOKEN"); token != "" {
		channelID := os.Getenv("AGENTICO_SLACK_CHANNEL")
		return notify.NewSwallowing(notify.NewSlackSink(token, channelID))
	}
	return nil
}

func closeDeps(ctx context.Context, d *deps) {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			slog.Warn("close store db failed", "error", err)
		}
	}
}
