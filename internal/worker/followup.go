package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/engine"
	"github.com/qbloq/agentico/internal/followup"
	"github.com/qbloq/agentico/internal/metrics"
	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/opsstream"
	"github.com/qbloq/agentico/internal/store"
)

// staleFollowupClaimAge mirrors the debounce buffer's stale-claim TTL
// for follow-up queue items (spec.md §4.4 "Clean stale per-item claims
// ... older than 5 minutes").
const staleFollowupClaimAge = 5 * time.Minute

// fallbackFollowupTemplate is the template name used when a text-type
// follow-up would otherwise be sent outside WhatsApp's 24-hour session
// window (spec.md §4.4 step 3's "force a named fallback template").
// Follow-up configs carry no fallback name of their own, so this
// constant is always the one used.
const fallbackFollowupTemplate = "general_update"

// FollowupWorker claims and dispatches due follow-up queue items
// (spec.md §4.4 steps 1-6).
type FollowupWorker struct {
	Stores    *store.Stores
	Engine    *engine.Engine
	Scheduler *followup.Scheduler
	Channels  *channels.Registry
	Ops       *opsstream.Hub
}

func NewFollowupWorker(stores *store.Stores, eng *engine.Engine, sched *followup.Scheduler, registry *channels.Registry) *FollowupWorker {
	return &FollowupWorker{Stores: stores, Engine: eng, Scheduler: sched, Channels: registry}
}

func (w *FollowupWorker) broadcast(tenantID, kind string, payload any) {
	if w.Ops == nil {
		return
	}
	w.Ops.Broadcast(opsstream.Event{Tenant: tenantID, Kind: kind, Payload: payload})
}

// RunOnce claims and dispatches up to one batch of due items for a
// tenant, returning whether more due items likely remain (for Harness's
// self-reinvocation loop).
func (w *FollowupWorker) RunOnce(ctx context.Context, tenantID string) (bool, error) {
	due, err := w.Stores.Followups.DueItems(ctx, tenantID, time.Now())
	if err != nil {
		return false, fmt.Errorf("list due follow-ups: %w", err)
	}
	if len(due) == 0 {
		return false, nil
	}

	for _, item := range due {
		claimed, err := w.Stores.Followups.Claim(ctx, tenantID, item.ID, time.Now())
		if err != nil {
			slog.Warn("claim follow-up item failed", "item", item.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := w.dispatch(ctx, tenantID, item); err != nil {
			slog.Warn("dispatch follow-up item failed", "item", item.ID, "error", err)
			metrics.RecordFollowupFailed(tenantID)
			if markErr := w.Stores.Followups.MarkFailed(ctx, tenantID, item.ID, err.Error()); markErr != nil {
				slog.Warn("mark follow-up failed also failed", "item", item.ID, "error", markErr)
			}
		}
	}

	return true, nil
}

func (w *FollowupWorker) dispatch(ctx context.Context, tenantID string, item model.FollowupQueueItem) error {
	sess, err := w.Stores.Sessions.FindByID(ctx, tenantID, item.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", item.SessionID, err)
	}

	resolved, stateCfg, err := w.resolve(ctx, tenantID, item, sess)
	if err != nil {
		return fmt.Errorf("resolve follow-up content: %w", err)
	}

	adapter, err := w.Channels.Adapter(sess.Channel.Kind)
	if err != nil {
		return fmt.Errorf("resolve channel adapter: %w", err)
	}

	tenant, err := w.Stores.Tenants.FindByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	cred, ok := tenant.ChannelCredentials[sess.Channel.Kind]
	if !ok {
		return fmt.Errorf("no channel credential for kind %q", sess.Channel.Kind)
	}

	// 24-hour window rule (spec.md §4.4 step 3): force a named fallback
	// template when the window has closed and the resolved content is
	// plain text.
	if resolved.Type == model.FollowupText && !channels.SessionWindowOpen(adapter, sess.LastMessageAt) {
		resolved = &followup.Rendered{
			Type:         model.FollowupTemplate,
			TemplateName: fallbackFollowupTemplate,
			Params:       []string{resolved.Text},
		}
	}

	resp := channels.OutboundResponse{
		Type:           model.MessageText,
		Content:        resolved.Text,
		TemplateName:   resolved.TemplateName,
		TemplateParams: resolved.Params,
	}
	if resolved.Type == model.FollowupTemplate {
		resp.Type = model.MessageTemplate
	}

	sendResult, err := adapter.Send(ctx, cred, sess.Channel.UserID, resp)
	if err != nil {
		return fmt.Errorf("send follow-up: %w", err)
	}
	metrics.RecordEgressSend(string(sess.Channel.Kind), sendResult.FellBackToText)

	if err := w.Stores.Messages.Save(ctx, tenantID, sess.ID, &model.Message{
		TenantID:       tenantID,
		SessionID:      sess.ID,
		Direction:      model.DirectionOutbound,
		Type:           resp.Type,
		Content:        resp.Content,
		TemplateName:   resp.TemplateName,
		PlatformMsgID:  sendResult.PlatformMsgID,
		DeliveryStatus: sendResult.DeliveryStatus,
		CreatedAt:      time.Now(),
	}); err != nil {
		return fmt.Errorf("save follow-up message: %w", err)
	}

	if err := w.Stores.Followups.MarkSent(ctx, tenantID, item.ID, time.Now()); err != nil {
		return fmt.Errorf("mark follow-up sent: %w", err)
	}
	metrics.RecordFollowupSent(tenantID, item.ConfigName)
	w.broadcast(tenantID, "followup_sent", map[string]string{"session": sess.ID, "config": item.ConfigName})

	if stateCfg != nil && len(stateCfg.FollowupSequence) > item.SequenceIndex+1 {
		if err := w.Scheduler.ScheduleNextInSequence(ctx, tenantID, sess.ID, sess.CurrentState, item.SequenceIndex, stateCfg.FollowupSequence); err != nil {
			slog.Warn("schedule next follow-up in sequence failed", "session", sess.ID, "error", err)
		}
	}

	return nil
}

// resolve renders the item's content: a named registry config if one
// was scheduled, otherwise the engine's dynamic LLM-generated fallback
// (spec.md §4.4 step 2).
func (w *FollowupWorker) resolve(ctx context.Context, tenantID string, item model.FollowupQueueItem, sess *model.Session) (*followup.Rendered, *model.StateConfig, error) {
	if item.ConfigName == "" {
		result, err := w.Engine.GenerateFollowup(ctx, tenantID, item.SessionID)
		if err != nil {
			return nil, nil, err
		}
		return &followup.Rendered{Type: model.FollowupText, Text: result.Response.Content}, &result.StateConfig, nil
	}

	cfg, err := w.Stores.Followups.GetConfig(ctx, tenantID, item.ConfigName)
	if err != nil {
		return nil, nil, fmt.Errorf("load follow-up config %q: %w", item.ConfigName, err)
	}
	rendered, err := followup.Render(ctx, cfg, sess, w.Engine.VariableGenerator())
	if err != nil {
		return nil, nil, err
	}

	stateCfg, err := w.Engine.ActiveStateConfig(ctx, tenantID, sess)
	if err != nil {
		return nil, nil, fmt.Errorf("load active state: %w", err)
	}
	return rendered, stateCfg, nil
}

// CleanupStaleClaims releases follow-up item claims no worker ever
// completed.
func (w *FollowupWorker) CleanupStaleClaims(ctx context.Context) (int, error) {
	return w.Stores.Followups.CleanupStaleLocks(ctx, staleFollowupClaimAge)
}
