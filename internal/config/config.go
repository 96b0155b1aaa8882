// Package config is the process-level bootstrap configuration: store
// DSN, LLM/embedding credentials, webhook verify token, server ports,
// feature toggles. Per-tenant credentials are store-resident
// (internal/tenant), never process config, per spec.md §6's
// "per-tenant credentials live in the store, not the environment."
// Grounded on the teacher's internal/config package: a JSON5-loadable
// struct with secret fields excluded from JSON (`json:"-"`) and
// overlaid from the environment after the file is parsed.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"

	"github.com/qbloq/agentico/internal/validate"
)

// Config is the root process configuration.
type Config struct {
	Store     StoreConfig     `json:"store" validate:"required"`
	LLM       LLMConfig       `json:"llm" validate:"required"`
	Embedding EmbeddingConfig `json:"embedding"`
	Server    ServerConfig    `json:"server" validate:"required"`
	Webhook   WebhookConfig   `json:"webhook"`
	Redis     RedisConfig     `json:"redis"`
	Metrics   MetricsConfig   `json:"metrics"`
	Tracing   TracingConfig   `json:"tracing"`
}

// RedisConfig configures the optional RAG embedding cache. Empty Addr
// disables caching — the retriever falls back to computing embeddings
// every call.
type RedisConfig struct {
	Addr string `json:"addr,omitempty"`
}

// MetricsConfig configures the standalone Prometheus HTTP server.
type MetricsConfig struct {
	Port string `json:"port,omitempty"`
}

// TracingConfig configures OpenTelemetry span export. SampleFraction 0
// (the default) installs a no-op tracer provider.
type TracingConfig struct {
	CollectorAddr  string  `json:"collectorAddr,omitempty"`
	UseHTTP        bool    `json:"useHttp,omitempty"`
	SampleFraction float64 `json:"sampleFraction,omitempty" validate:"min=0,max=1"`
}

// StoreConfig configures the backing store (pg or sqlite).
type StoreConfig struct {
	Driver string `json:"driver" validate:"required,oneof=postgres sqlite"`
	DSN    string `json:"-"`      // env AGENTICO_STORE_DSN only, never persisted
}

// LLMConfig configures the default LLM provider.
type LLMConfig struct {
	Provider  string `json:"provider" validate:"required"` // "anthropic"
	Model     string `json:"model,omitempty"`
	MaxTokens int64  `json:"maxTokens,omitempty" validate:"omitempty,min=1"`
	APIKey    string `json:"-"` // env AGENTICO_LLM_API_KEY only
	BaseURL   string `json:"baseUrl,omitempty" validate:"omitempty,url"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"-"` // env AGENTICO_EMBEDDING_API_KEY only
	BaseURL string `json:"baseUrl,omitempty" validate:"omitempty,url"`
}

// ServerConfig configures the webhook ingress HTTP listener.
type ServerConfig struct {
	Host string `json:"host" validate:"required"`
	Port int    `json:"port" validate:"required,min=1,max=65535"`
}

// WebhookConfig holds the channel webhook settings that are not
// tenant-specific. VerifyToken is the one shared token the GET challenge
// handshake checks for every tenant. DefaultChannelAPIBase is loaded but
// not applied to outbound sends, which use each tenant credential's
// APIBaseURL.
type WebhookConfig struct {
	DefaultChannelAPIBase string `json:"defaultChannelApiBase,omitempty"`
	VerifyToken           string `json:"-"` // env AGENTICO_WEBHOOK_VERIFY_TOKEN only
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite"},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Metrics: MetricsConfig{Port: "9090"},
	}
}

// Load reads config from a JSON5 file (if present) then overlays
// environment variables, mirroring the teacher's Load/applyEnvOverrides
// split.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and secrets are ONLY ever sourced here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("AGENTICO_STORE_DRIVER", &c.Store.Driver)
	envStr("AGENTICO_STORE_DSN", &c.Store.DSN)
	envStr("AGENTICO_LLM_PROVIDER", &c.LLM.Provider)
	envStr("AGENTICO_LLM_MODEL", &c.LLM.Model)
	envStr("AGENTICO_LLM_API_KEY", &c.LLM.APIKey)
	envStr("AGENTICO_LLM_BASE_URL", &c.LLM.BaseURL)
	envStr("AGENTICO_EMBEDDING_MODEL", &c.Embedding.Model)
	envStr("AGENTICO_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	envStr("AGENTICO_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	envStr("AGENTICO_SERVER_HOST", &c.Server.Host)
	envInt("AGENTICO_SERVER_PORT", &c.Server.Port)
	envStr("AGENTICO_WEBHOOK_API_BASE", &c.Webhook.DefaultChannelAPIBase)
	envStr("AGENTICO_WEBHOOK_VERIFY_TOKEN", &c.Webhook.VerifyToken)
	envStr("AGENTICO_REDIS_ADDR", &c.Redis.Addr)
	envStr("AGENTICO_METRICS_PORT", &c.Metrics.Port)
	envStr("AGENTICO_TRACING_COLLECTOR_ADDR", &c.Tracing.CollectorAddr)
}
