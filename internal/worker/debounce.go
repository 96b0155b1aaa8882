package worker

import (
	"context"
	"log/slog"

	"github.com/qbloq/agentico/internal/debounce"
)

// DebounceWorker wraps a debounce.Pipeline in the WorkFunc shape Harness
// expects, scanning and draining one tenant/endpoint pair per call.
type DebounceWorker struct {
	Pipeline   *debounce.Pipeline
	TenantID   string
	EndpointID string
}

func NewDebounceWorker(pipeline *debounce.Pipeline, tenantID, endpointID string) *DebounceWorker {
	return &DebounceWorker{Pipeline: pipeline, TenantID: tenantID, EndpointID: endpointID}
}

// RunOnce scans for mature sessions and drains every one found, reporting
// whether any were found (so Harness keeps looping while the backlog is
// non-empty).
func (w *DebounceWorker) RunOnce(ctx context.Context) (bool, error) {
	hashes, err := w.Pipeline.ScanMatureSessions(ctx, w.TenantID, w.EndpointID)
	if err != nil {
		return false, err
	}
	if len(hashes) == 0 {
		return false, nil
	}

	for _, hash := range hashes {
		if _, err := w.Pipeline.ClaimAndDrain(ctx, w.TenantID, hash); err != nil {
			slog.Warn("drain debounce session failed", "session_key_hash", hash, "error", err)
		}
	}

	return true, nil
}
