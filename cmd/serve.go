package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/config"
	"github.com/qbloq/agentico/internal/engine"
	"github.com/qbloq/agentico/internal/metrics"
	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingress HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "agentico-serve",
		CollectorAddr:  cfg.Tracing.CollectorAddr,
		UseHTTP:        cfg.Tracing.UseHTTP,
		SampleFraction: cfg.Tracing.SampleFraction,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	d, err := buildDeps(cfg)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer closeDeps(ctx, d)

	metricsSrv := metrics.NewServer(cfg.Metrics.Port, slog.Default())
	metricsSrv.StartAsync()
	defer metricsSrv.Stop(context.Background())

	h := &webhookHandler{deps: d, verifyToken: cfg.Webhook.VerifyToken}

	mux := http.NewServeMux()
	mux.Handle("/ops/stream", d.ops)
	for _, kind := range []model.ChannelKind{model.ChannelWhatsApp, model.ChannelTelegram, model.ChannelDiscord} {
		mux.HandleFunc("/webhook/"+string(kind), h.forKind(kind))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down webhook server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// webhookHandler routes one channel kind's GET (registration challenge)
// and POST (inbound event) traffic to the shared ingress pipeline.
type webhookHandler struct {
	deps        *deps
	verifyToken string
}

func (h *webhookHandler) forKind(kind model.ChannelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adapter, err := h.deps.channels.Adapter(kind)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.handleChallenge(w, r, adapter)
		case http.MethodPost:
			h.handleEvent(w, r, adapter)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (h *webhookHandler) handleChallenge(w http.ResponseWriter, r *http.Request, adapter channels.ChannelAdapter) {
	verifier, ok := adapter.(channels.ChallengeVerifier)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	echo, ok := verifier.VerifyChallenge(model.ChannelCredential{WebhookVerifyTok: h.verifyToken}, mode, token, challenge)
	if !ok {
		metrics.RecordWebhookRequest(string(adapter.Kind()), "challenge_rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}
	metrics.RecordWebhookRequest(string(adapter.Kind()), "challenge_ok")
	fmt.Fprint(w, echo)
}

func (h *webhookHandler) handleEvent(w http.ResponseWriter, r *http.Request, adapter channels.ChannelAdapter) {
	ctx := r.Context()
	kind := adapter.Kind()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.RecordWebhookRequest(string(kind), "read_error")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	parsed, err := adapter.Parse(body)
	if err != nil {
		metrics.RecordWebhookRequest(string(kind), "parse_error")
		slog.Warn("parse webhook payload failed", "channel", kind, "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// The 200 status is set before routing, but routing runs synchronously
	// inside this handler, so the response completes only after every
	// parsed message has been routed.
	w.WriteHeader(http.StatusOK)

	for _, pm := range parsed {
		if err := h.route(ctx, pm); err != nil {
			slog.Warn("route inbound message failed", "channel", kind, "error", err)
		}
	}
	metrics.RecordWebhookRequest(string(kind), "accepted")
}

func (h *webhookHandler) route(ctx context.Context, pm channels.ParsedMessage) error {
	tenantCfg, err := h.deps.tenants.ResolveByChannel(ctx, pm.Channel.Kind, pm.Channel.EndpointID)
	if err != nil {
		return fmt.Errorf("resolve tenant for channel %s/%s: %w", pm.Channel.Kind, pm.Channel.EndpointID, err)
	}

	if tenantCfg.DebounceEnabled {
		_, err := h.deps.engine.IngestMessage(ctx, tenantCfg.ID, pm.Channel, pm.Message, tenantCfg.DebounceDelay)
		return err
	}

	result, err := h.deps.engine.ProcessMessage(ctx, tenantCfg.ID, pm.Channel, pm.Message)
	if err != nil {
		return err
	}
	return h.sendResponses(ctx, tenantCfg, pm.Channel, result)
}

func (h *webhookHandler) sendResponses(ctx context.Context, tenantCfg *model.TenantConfig, ch model.ChannelTriple, result *engine.TurnResult) error {
	adapter, err := h.deps.channels.Adapter(ch.Kind)
	if err != nil {
		return err
	}
	cred, ok := tenantCfg.ChannelCredentials[ch.Kind]
	if !ok {
		return fmt.Errorf("no channel credential for kind %q", ch.Kind)
	}

	for _, resp := range result.Responses {
		sendResult, err := adapter.Send(ctx, cred, ch.UserID, resp)
		if err != nil {
			slog.Warn("send outbound response failed", "channel", ch.Kind, "error", err)
			continue
		}
		metrics.RecordEgressSend(string(ch.Kind), sendResult.FellBackToText)
	}
	return nil
}
