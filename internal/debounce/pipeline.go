// Package debounce implements the worker-facing half of the Debounce
// Pipeline (spec.md §4.3): mature-session scanning, atomic per-session
// claiming, and drain-with-retry orchestration. Ingest (buffer insert +
// timer reset) lives in internal/engine.IngestMessage, which calls
// straight through to store.MessageBufferStore.Add — the store
// implementations (internal/store/pg/buffer.go,
// internal/store/sqlite/buffer.go) already perform the insert-plus-
// reset-prior-rows transaction spec.md §4.3's Ingest describes, so this
// package's job is purely the scan → claim → drain → retry-or-delete
// loop the Worker Harness runs on a timer.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qbloq/agentico/internal/engine"
	"github.com/qbloq/agentico/internal/metrics"
	"github.com/qbloq/agentico/internal/store"
)

// staleClaimAge is how old an unreleased claim must be before the
// stale-lock cleaner reclaims it (spec.md §4.3 "TTL is enforced by a
// stale-lock cleaner that clears processingStartedAt when older than 5
// minutes").
const staleClaimAge = 5 * time.Minute

// Pipeline drains mature debounce sessions through an Engine, retrying
// or leaving rows for operator review on failure.
type Pipeline struct {
	Buffer store.MessageBufferStore
	Engine *engine.Engine
}

func New(buffer store.MessageBufferStore, eng *engine.Engine) *Pipeline {
	return &Pipeline{Buffer: buffer, Engine: eng}
}

// ScanMatureSessions lists session-key hashes ready to drain: scheduled
// in the past, unclaimed, under the retry ceiling (spec.md §4.3
// "Mature-session scan"). endpointID narrows the scan for sharded
// worker deployments; pass "" to scan every endpoint for the tenant.
func (p *Pipeline) ScanMatureSessions(ctx context.Context, tenantID, endpointID string) ([]string, error) {
	hashes, err := p.Buffer.GetMatureSessions(ctx, tenantID, endpointID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("scan mature sessions: %w", err)
	}
	metrics.DebounceBufferDepth.WithLabelValues(tenantID).Set(float64(len(hashes)))
	return hashes, nil
}

// ClaimAndDrain claims one session-key hash and, on success, drains and
// processes its buffered messages as a single logical turn. Returns
// (false, nil) when another worker already holds the claim — not an
// error, just lost the race (spec.md §4.3 Claim, §5 "Claim").
func (p *Pipeline) ClaimAndDrain(ctx context.Context, tenantID, sessionKeyHash string) (bool, error) {
	claimed, err := p.Buffer.ClaimSession(ctx, tenantID, sessionKeyHash, time.Now())
	if err != nil {
		return false, fmt.Errorf("claim session %s: %w", sessionKeyHash, err)
	}
	if !claimed {
		return false, nil
	}
	drainStart := time.Now()
	defer func() { metrics.RecordDebounceDrain(tenantID, time.Since(drainStart)) }()

	if _, procErr := p.Engine.ProcessPendingMessages(ctx, tenantID, sessionKeyHash); procErr != nil {
		if errors.Is(procErr, engine.ErrIdempotent) {
			// Another worker already drained this session between our
			// claim and the drain call; nothing left to do.
			return true, nil
		}
		if markErr := p.markForRetry(ctx, tenantID, sessionKeyHash, procErr); markErr != nil {
			return true, fmt.Errorf("process session %s failed (%v) and retry bookkeeping also failed: %w", sessionKeyHash, procErr, markErr)
		}
		return true, fmt.Errorf("process session %s: %w", sessionKeyHash, procErr)
	}
	return true, nil
}

// markForRetry clears the claim, increments retry-count, and records
// the failure on every row still buffered for the session, so the next
// mature-session scan either retries it or, past model.MaxRetries,
// leaves it parked for operator review (spec.md §4.1, §4.3, §5).
func (p *Pipeline) markForRetry(ctx context.Context, tenantID, sessionKeyHash string, cause error) error {
	rows, err := p.Buffer.GetBySession(ctx, tenantID, sessionKeyHash)
	if err != nil {
		return fmt.Errorf("load buffered rows for retry bookkeeping: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return p.Buffer.MarkForRetry(ctx, tenantID, ids, cause.Error())
}

// CleanupStaleLocks releases claims no worker ever completed (crash,
// timeout) so their session becomes claimable again.
func (p *Pipeline) CleanupStaleLocks(ctx context.Context) (int, error) {
	n, err := p.Buffer.CleanupStaleLocks(ctx, staleClaimAge)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale debounce locks: %w", err)
	}
	return n, nil
}
