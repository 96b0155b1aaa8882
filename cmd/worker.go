package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbloq/agentico/internal/config"
	"github.com/qbloq/agentico/internal/debounce"
	"github.com/qbloq/agentico/internal/metrics"
	"github.com/qbloq/agentico/internal/tracing"
	"github.com/qbloq/agentico/internal/worker"
)

// workerTickInterval paces the outer loop; each pass gives every known
// tenant+endpoint pair one bounded harness run of the debounce drain and
// the follow-up dispatch, plus a heartbeat tick for stale-lock cleanup.
const workerTickInterval = 5 * time.Second

// workerRunBudget bounds a single harness invocation so one tenant's
// backlog can't starve the others sharing this process.
const workerRunBudget = 3 * time.Second

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the debounce drain and follow-up dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "agentico-worker",
		CollectorAddr:  cfg.Tracing.CollectorAddr,
		UseHTTP:        cfg.Tracing.UseHTTP,
		SampleFraction: cfg.Tracing.SampleFraction,
	})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer closeDeps(ctx, d)

	metricsSrv := metrics.NewServer(cfg.Metrics.Port, slog.Default())
	metricsSrv.StartAsync()
	defer metricsSrv.Stop(context.Background())

	pipeline := debounce.New(d.stores.Buffer, d.engine)
	followupWorker := worker.NewFollowupWorker(d.stores, d.engine, d.followups, d.channels)
	followupWorker.Ops = d.ops
	harness := worker.NewHarness(d.stores.WorkerLocks)
	heartbeat := worker.NewHeartbeat(worker.NewSweeper(pipeline, followupWorker))

	ticker := time.NewTicker(workerTickInterval)
	defer ticker.Stop()

	slog.Info("worker loop started", "interval", workerTickInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker loop stopping")
			return nil
		case <-ticker.C:
			runWorkerTick(ctx, d, harness, pipeline, followupWorker, heartbeat)
		}
	}
}

func runWorkerTick(ctx context.Context, d *deps, harness *worker.Harness, pipeline *debounce.Pipeline, followupWorker *worker.FollowupWorker, heartbeat *worker.Heartbeat) {
	tenants, err := d.stores.Tenants.ListActive(ctx)
	if err != nil {
		slog.Warn("list active tenants failed", "error", err)
		return
	}

	for _, t := range tenants {
		t := t
		if t.DebounceEnabled {
			for kind, cred := range t.ChannelCredentials {
				lockName := "debounce:" + t.ID + ":" + string(kind)
				dw := worker.NewDebounceWorker(pipeline, t.ID, cred.ChannelID)
				if err := harness.Run(ctx, lockName, workerRunBudget, dw.RunOnce); err != nil {
					slog.Warn("debounce worker run failed", "tenant", t.ID, "channel", kind, "error", err)
				}
			}
		}

		lockName := "followup:" + t.ID
		if err := harness.Run(ctx, lockName, workerRunBudget, func(ctx context.Context) (bool, error) {
			return followupWorker.RunOnce(ctx, t.ID)
		}); err != nil {
			slog.Warn("follow-up worker run failed", "tenant", t.ID, "error", err)
		}
	}

	if err := heartbeat.Tick(ctx); err != nil {
		slog.Warn("heartbeat tick failed", "error", err)
	}
}
