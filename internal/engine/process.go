package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/qbloq/agentico/internal/model"
)

// IngestResult reports what happened to one inbound event when debounce
// buffering is enabled for the tenant (spec.md §4.3).
type IngestResult struct {
	Buffered           bool
	ScheduledProcessAt time.Time
}

// SessionKeyHash derives the debounce buffer's partition key: one
// tenant+channel+endpoint+user quadruple maps to exactly one buffered
// session row, independent of the session's own (possibly not-yet-
// created) ID.
func SessionKeyHash(tenantID string, ch model.ChannelTriple) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", tenantID, ch.Kind, ch.EndpointID, ch.UserID)))
	return hex.EncodeToString(sum[:])
}

// IngestMessage is the debounce-enabled entry point: it never calls the
// LLM directly, it only buffers (spec.md §4.3 step "ingest"). The
// caller (webhook handler) uses ProcessMessage instead when the
// tenant's debounceEnabled is false.
func (e *Engine) IngestMessage(ctx context.Context, tenantID string, ch model.ChannelTriple, msg model.NormalizedMessage, delay time.Duration) (*IngestResult, error) {
	keyHash := SessionKeyHash(tenantID, ch)
	scheduledAt := time.Now().Add(delay)

	if err := e.Stores.Buffer.Add(ctx, tenantID, &model.BufferedMessage{
		SessionKeyHash:     keyHash,
		Channel:            ch,
		Payload:            msg,
		ReceivedAt:         msg.Timestamp,
		ScheduledProcessAt: scheduledAt,
	}, delay); err != nil {
		return nil, fmt.Errorf("%w: buffer inbound message: %v", ErrTransient, err)
	}

	return &IngestResult{Buffered: true, ScheduledProcessAt: scheduledAt}, nil
}

// ProcessMessage handles one inbound event immediately, with no
// debounce buffering: load-or-create the session, then run one turn.
func (e *Engine) ProcessMessage(ctx context.Context, tenantID string, ch model.ChannelTriple, msg model.NormalizedMessage) (*TurnResult, error) {
	sess, err := e.loadOrCreateSession(ctx, tenantID, ch)
	if err != nil {
		return nil, err
	}
	return e.processTurn(ctx, tenantID, sess, msg, false)
}

// ProcessPendingMessages drains every buffered message for one claimed
// debounce session, in received order, as a single logical turn: their
// content is concatenated per spec.md §4.3's fixed aggregation rule,
// and media fields from the final buffered event are kept so transcription
// and image description reach the engine from the message actually meant
// to be reacted to.
func (e *Engine) ProcessPendingMessages(ctx context.Context, tenantID, sessionKeyHash string) (*TurnResult, error) {
	buffered, err := e.Stores.Buffer.GetBySession(ctx, tenantID, sessionKeyHash)
	if err != nil {
		return nil, fmt.Errorf("%w: load buffered messages: %v", ErrTransient, err)
	}
	if len(buffered) == 0 {
		return nil, fmt.Errorf("%w: no buffered messages for session %s", ErrIdempotent, sessionKeyHash)
	}

	ch := buffered[0].Channel
	sess, err := e.loadOrCreateSession(ctx, tenantID, ch)
	if err != nil {
		return nil, err
	}

	merged := mergeBufferedMessages(buffered)

	result, turnErr := e.processTurn(ctx, tenantID, sess, merged, false)
	if turnErr != nil {
		return nil, turnErr
	}

	ids := make([]string, 0, len(buffered))
	for _, b := range buffered {
		ids = append(ids, b.ID)
	}
	if err := e.Stores.Buffer.DeleteByIDs(ctx, tenantID, ids); err != nil {
		return nil, fmt.Errorf("%w: delete drained buffer rows: %v", ErrTransient, err)
	}

	return result, nil
}

// mergeBufferedMessages concatenates a burst of buffered inbound events
// into one NormalizedMessage: text content joined with newlines in
// received order, with the last event's media/transcription/image
// fields preserved (the most recent attachment is the one relevant to
// whatever the user said around it).
func mergeBufferedMessages(buffered []model.BufferedMessage) model.NormalizedMessage {
	last := buffered[len(buffered)-1].Payload

	var contentParts []string
	for _, b := range buffered {
		if b.Payload.Content != "" {
			contentParts = append(contentParts, b.Payload.Content)
		}
	}

	merged := last
	merged.Content = strings.Join(contentParts, "\n")
	return merged
}

func (e *Engine) loadOrCreateSession(ctx context.Context, tenantID string, ch model.ChannelTriple) (*model.Session, error) {
	sess, err := e.Stores.Sessions.FindByKey(ctx, tenantID, ch)
	if err == nil && sess != nil {
		return sess, nil
	}

	tenant, tErr := e.Stores.Tenants.FindByID(ctx, tenantID)
	if tErr != nil {
		return nil, fmt.Errorf("%w: load tenant for new session: %v", ErrPrecondition, tErr)
	}
	machine, mErr := e.Stores.StateMachines.FindActive(ctx, tenantID, tenant.ActiveStateMachine)
	if mErr != nil {
		return nil, fmt.Errorf("%w: load state machine for new session: %v", ErrPrecondition, mErr)
	}

	contact, cErr := e.Stores.Contacts.FindOrCreateByChannelUser(ctx, tenantID, ch.Kind, ch.UserID)
	if cErr != nil {
		return nil, fmt.Errorf("%w: resolve contact: %v", ErrTransient, cErr)
	}

	created, err := e.Stores.Sessions.Create(ctx, tenantID, ch, contact.ID, machine.InitialState)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrTransient, err)
	}
	return created, nil
}
