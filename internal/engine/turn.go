package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/llm"
	"github.com/qbloq/agentico/internal/metrics"
	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/notify"
	"github.com/qbloq/agentico/internal/statemachine"
	"github.com/qbloq/agentico/internal/tracing"
)

// transitionHistoryContextKey is where processTurn records each applied
// transition's reason inside session.Context (spec.md §4.1 step 7,
// "record the reason in the session's transition history (in-context)").
const transitionHistoryContextKey = "transition_history"

// TurnResult is what one processed turn produces: the response items
// ready for channel delivery, plus the state the session ended in.
type TurnResult struct {
	Responses []channels.OutboundResponse
	Session   *model.Session
	Escalated bool
}

// processTurn runs the full ten-step Conversation Engine algorithm
// (spec.md §4.1) for one logical inbound turn — a single message, or a
// buffered batch the debounce pipeline already concatenated into inbound.
func (e *Engine) processTurn(ctx context.Context, tenantID string, sess *model.Session, inbound model.NormalizedMessage, originatedFromFollowup bool) (result *TurnResult, err error) {
	ctx, span := tracing.Tracer("agentico/engine").Start(ctx, "processTurn")
	start := time.Now()
	defer func() {
		span.End()
		if err != nil {
			metrics.RecordTurnError(tenantID, turnErrorKind(err))
			return
		}
		metrics.RecordTurn(tenantID, result.Session.CurrentState, time.Since(start))
	}()

	tenant, err := e.Stores.Tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: load tenant %s: %v", ErrPrecondition, tenantID, err)
	}

	machine, err := e.Stores.StateMachines.FindActive(ctx, tenantID, tenant.ActiveStateMachine)
	if err != nil {
		return nil, fmt.Errorf("%w: load state machine: %v", ErrPrecondition, err)
	}
	rt, err := statemachine.New(machine)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid state machine: %v", ErrPrecondition, err)
	}
	stateCfg, ok := rt.State(sess.CurrentState)
	if !ok {
		return nil, fmt.Errorf("%w: session in unknown state %q", ErrPrecondition, sess.CurrentState)
	}

	history, err := e.Stores.Messages.GetRecent(ctx, tenantID, sess.ID, e.historyLimit())
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrTransient, err)
	}

	// Step 2: resume-from-agent gate. An escalated session stays held
	// for the agent unless it's been quiet past the hold duration and
	// has no active escalation left open.
	if sess.Escalated {
		held, err := e.Stores.Escalations.HasActive(ctx, tenantID, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: check active escalation: %v", ErrTransient, err)
		}
		quietLongEnough := time.Since(sess.LastMessageAt) >= ResumeGateHoldDuration
		if held || !quietLongEnough {
			return &TurnResult{Responses: nil, Session: sess, Escalated: true}, nil
		}
		sess.Escalated = false
		sess.Status = model.SessionActive
	}

	// Cancellation (spec.md §4.4): every inbound reply that actually
	// reaches processing clears whatever follow-ups were pending for
	// this session, regardless of whether this turn escalates.
	if e.Followups != nil {
		if err := e.Followups.CancelOnReply(ctx, tenantID, sess.ID); err != nil {
			slog.Warn("cancel pending follow-ups on reply failed", "session", sess.ID, "error", err)
		}
	}

	// Step 3: media normalization.
	normalizedText, err := e.normalizeInbound(ctx, inbound)
	if err != nil {
		return nil, fmt.Errorf("%w: normalize media: %v", ErrTransient, err)
	}

	if err := e.Stores.Messages.Save(ctx, tenantID, sess.ID, &model.Message{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		SessionID:     sess.ID,
		Direction:     model.DirectionInbound,
		Type:          inbound.Type,
		Content:       inbound.Content,
		MediaURL:      inbound.MediaURL,
		Transcription: inbound.Transcription,
		ImageAnalysis: inbound.ImageAnalysis,
		CreatedAt:     inbound.Timestamp,
	}); err != nil {
		return nil, fmt.Errorf("%w: save inbound message: %v", ErrTransient, err)
	}

	// Step 4: RAG retrieval, scoped to the current state's categories.
	var ragResult struct {
		Knowledge []model.KnowledgeEntry
		Examples  []model.ConversationExample
	}
	if e.RAG != nil {
		r, err := e.RAG.Retrieve(ctx, normalizedText, sess.CurrentState, stateCfg.RAGCategories)
		if err != nil {
			slog.Warn("rag retrieval failed, continuing without context", "session", sess.ID, "error", err)
		} else {
			ragResult.Knowledge = r.Knowledge
			ragResult.Examples = r.Examples
		}
	}

	// Step 5: prompt assembly + LLM call.
	systemPrompt, err := e.buildSystemPrompt(tenant, rt, sess.CurrentState, ragResult.Knowledge, ragResult.Examples)
	if err != nil {
		return nil, fmt.Errorf("%w: assemble prompt: %v", ErrPrecondition, err)
	}
	messages := historyToLLMMessages(history, normalizedText)

	llmStart := time.Now()
	genResult, err := e.LLM.GenerateResponse(ctx, llm.GenerateRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		JSONMode:     true,
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate response: %v", ErrTransient, err)
	}
	metrics.RecordLLMCall(tenantID, time.Since(llmStart), int64(genResult.Usage.PromptTokens), int64(genResult.Usage.CompletionTokens))

	// Step 6: parse, with an internal ai_uncertainty safety net on failure.
	turn, parseErr := parseTurnResponse(genResult.Content)
	if parseErr != nil {
		slog.Warn("llm turn response failed to parse, falling back to ai_uncertainty escalation", "session", sess.ID, "error", parseErr)
		turn = &model.TurnResponse{
			Responses: []model.ResponseItem{{
				Type:    string(model.MessageText),
				Content: "Sorry, I'm having trouble helping with that right now — let me get a teammate to step in.",
			}},
			Escalation: &model.EscalationIntent{
				ShouldEscalate: true,
				Reason:         string(model.ReasonAIUncertainty),
				Priority:       string(model.PriorityMedium),
				Summary:        "LLM response failed to parse as structured JSON",
			},
		}
	}

	// Step 7: transition validation.
	nextState := sess.CurrentState
	if turn.Transition != nil && turn.Transition.To != "" {
		if rt.CanTransitionTo(sess.CurrentState, turn.Transition.To) {
			sess.PreviousState = sess.CurrentState
			nextState = turn.Transition.To
			recordTransition(sess, turn.Transition)
		} else {
			slog.Info("dropping disallowed transition", "session", sess.ID, "from", sess.CurrentState, "to", turn.Transition.To)
		}
	}

	// Step 8: escalation / resume handling. The model's own escalation
	// decision and its independent isUncertain safety net each trigger
	// escalation on their own — either one is enough.
	escalated := sess.Escalated
	shouldEscalate := (turn.Escalation != nil && turn.Escalation.ShouldEscalate) || turn.IsUncertain
	if shouldEscalate {
		esc := turn.Escalation
		if esc == nil {
			esc = &model.EscalationIntent{
				Reason:   string(model.ReasonAIUncertainty),
				Priority: string(model.PriorityMedium),
				Summary:  "model reported low confidence in its own response",
			}
		}
		if err := e.applyEscalation(ctx, tenantID, sess, *esc); err != nil && err != ErrIdempotent {
			// A failed escalation is logged; the turn itself still completes.
			slog.Warn("apply escalation failed, continuing turn", "session", sess.ID, "error", err)
		} else {
			escalated = true
		}
	}

	// Step 9: deposit side effect.
	if turn.DepositConfirmed != nil {
		if err := e.applyDeposit(ctx, tenantID, sess, *turn.DepositConfirmed); err != nil {
			return nil, fmt.Errorf("%w: apply deposit: %v", ErrTransient, err)
		}
	}

	if len(turn.ContextUpdates) > 0 {
		if sess.Context == nil {
			sess.Context = map[string]any{}
		}
		for k, v := range turn.ContextUpdates {
			sess.Context[k] = v
		}
	}

	// Step 10: persist outbound messages, update session, schedule follow-ups.
	responses := make([]channels.OutboundResponse, 0, len(turn.Responses))
	for _, item := range turn.Responses {
		resp := channels.OutboundResponse{
			Type:           model.MessageType(item.Type),
			Content:        item.Content,
			TemplateName:   item.TemplateName,
			TemplateParams: item.TemplateParams,
			DelayMs:        int64(item.DelayMs),
		}
		responses = append(responses, resp)
		if err := e.Stores.Messages.Save(ctx, tenantID, sess.ID, &model.Message{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			SessionID:    sess.ID,
			Direction:    model.DirectionOutbound,
			Type:         resp.Type,
			Content:      resp.Content,
			TemplateName: resp.TemplateName,
			CreatedAt:    inbound.Timestamp,
		}); err != nil {
			return nil, fmt.Errorf("%w: save outbound message: %v", ErrTransient, err)
		}
	}

	sess.CurrentState = nextState
	sess.LastMessageAt = inbound.Timestamp
	sess.Escalated = escalated
	if err := e.Stores.Sessions.Update(ctx, tenantID, sess); err != nil {
		return nil, fmt.Errorf("%w: update session: %v", ErrTransient, err)
	}

	if e.Followups != nil && !escalated {
		nextStateCfg, ok := rt.State(sess.CurrentState)
		if ok {
			if err := e.Followups.ScheduleOnTurn(ctx, tenantID, sess, nextStateCfg, originatedFromFollowup); err != nil {
				slog.Warn("scheduling follow-up failed", "session", sess.ID, "error", err)
			}
		}
	}

	e.broadcast(tenantID, "turn_processed", map[string]string{"session": sess.ID, "state": sess.CurrentState})

	return &TurnResult{Responses: responses, Session: sess, Escalated: escalated}, nil
}

// turnErrorKind maps a processTurn error to the engine's error-kind
// taxonomy for metric labeling, defaulting to "unknown" for anything
// that doesn't wrap one of the sentinel errors.
func turnErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrIdempotent):
		return "idempotent"
	default:
		return "unknown"
	}
}

func (e *Engine) historyLimit() int {
	if e.HistoryLimit > 0 {
		return e.HistoryLimit
	}
	return DefaultHistoryLimit
}

// normalizeInbound resolves the text the LLM will see for this turn:
// the message content directly, or the result of transcription/vision
// analysis for audio/image messages.
func (e *Engine) normalizeInbound(ctx context.Context, inbound model.NormalizedMessage) (string, error) {
	switch inbound.Type {
	case model.MessageAudio:
		if inbound.Transcription != "" {
			return inbound.Transcription, nil
		}
		if e.Media == nil || inbound.MediaURL == "" {
			return "", nil
		}
		dl, err := e.Media.Download(ctx, inbound.MediaURL, nil)
		if err != nil {
			return "", err
		}
		text, err := e.Media.Transcribe(ctx, dl.Data, dl.MimeType)
		if err != nil {
			return "", err
		}
		return text, nil
	case model.MessageImage, model.MessageSticker:
		if inbound.ImageAnalysis != "" {
			return inbound.ImageAnalysis, nil
		}
		if e.Media == nil || inbound.MediaURL == "" {
			return inbound.Content, nil
		}
		dl, err := e.Media.Download(ctx, inbound.MediaURL, nil)
		if err != nil {
			return "", err
		}
		desc, err := e.Media.AnalyzeImage(ctx, dl.Data, dl.MimeType)
		if err != nil {
			return "", err
		}
		if inbound.Content != "" {
			return inbound.Content + "\n[image: " + desc + "]", nil
		}
		return "[image: " + desc + "]", nil
	default:
		return inbound.Content, nil
	}
}

// buildSystemPrompt assembles the system prompt: tenant business
// metadata, the current state's objective/transition guidance, and RAG
// context (spec.md §4.1 step 5).
func (e *Engine) buildSystemPrompt(tenant *model.TenantConfig, rt *statemachine.Runtime, currentState string, knowledge []model.KnowledgeEntry, examples []model.ConversationExample) (string, error) {
	var b strings.Builder

	b.WriteString("You are a conversational assistant handling messaging support for a business.\n\n")
	if len(tenant.BusinessMetadata) > 0 {
		b.WriteString("Business context:\n")
		for k, v := range tenant.BusinessMetadata {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
		b.WriteString("\n")
	}

	transitionBlock, err := rt.BuildTransitionContext(currentState)
	if err != nil {
		return "", err
	}
	b.WriteString(transitionBlock)
	b.WriteString("\n")

	if len(knowledge) > 0 {
		b.WriteString("Relevant knowledge:\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- %s: %s\n", k.Title, k.Answer)
		}
		b.WriteString("\n")
	}

	if len(examples) > 0 {
		b.WriteString("Example conversations:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "Scenario: %s (outcome: %s)\n", ex.Scenario, ex.Outcome)
			for _, m := range ex.Messages {
				fmt.Fprintf(&b, "  %s: %s\n", m.Role, m.Content)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(`Reply with exactly one JSON object of this shape:
{"responses":[{"type":"text","content":"..."}],"transition":{"to":"<next state>","reason":"...","confidence":0.0},"escalation":{"shouldEscalate":false,"reason":"...","priority":"...","summary":"..."},"isUncertain":false,"contextUpdates":{},"depositConfirmed":{"amount":0,"currency":"...","reasoning":"..."}}
Omit "transition"/"escalation"/"depositConfirmed" entirely when they don't apply. Only propose a transition listed under Allowed transitions above. Set isUncertain true whenever you are not confident your response is correct, even if you aren't asking for escalation otherwise.`)

	return b.String(), nil
}

func historyToLLMMessages(history []model.Message, latestInbound string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Direction == model.DirectionOutbound {
			role = "assistant"
		}
		content := m.Content
		if m.Transcription != "" {
			content = m.Transcription
		} else if m.ImageAnalysis != "" {
			content = m.ImageAnalysis
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: latestInbound})
	return msgs
}

// parseTurnResponse strips an optional fenced code block around the
// LLM's JSON reply before unmarshaling, mirroring how providers commonly
// wrap JSON answers in markdown even under JSON-mode instructions.
func parseTurnResponse(content string) (*model.TurnResponse, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var turn model.TurnResponse
	if err := json.Unmarshal([]byte(s), &turn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(turn.Responses) == 0 {
		return nil, fmt.Errorf("%w: no responses in turn", ErrSchema)
	}
	return &turn, nil
}

// recordTransition appends an applied transition's reason to the
// session's in-context transition history (spec.md §4.1 step 7).
func recordTransition(sess *model.Session, intent *model.TransitionIntent) {
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	record := model.TransitionRecord{
		From:       sess.PreviousState,
		To:         intent.To,
		Reason:     intent.Reason,
		Confidence: intent.Confidence,
		At:         time.Now(),
	}
	existing, ok := sess.Context[transitionHistoryContextKey].([]model.TransitionRecord)
	if !ok {
		// A session loaded from the store holds the history as decoded JSON.
		if raw, err := json.Marshal(sess.Context[transitionHistoryContextKey]); err == nil {
			_ = json.Unmarshal(raw, &existing)
		}
	}
	sess.Context[transitionHistoryContextKey] = append(existing, record)
}

// applyEscalation idempotently opens (or leaves open) an escalation for
// the session, pauses it, and notifies. Pending follow-ups are cancelled
// earlier in processTurn, not here.
func (e *Engine) applyEscalation(ctx context.Context, tenantID string, sess *model.Session, le model.EscalationIntent) error {
	active, err := e.Stores.Escalations.HasActive(ctx, tenantID, sess.ID)
	if err != nil {
		return err
	}
	if active {
		return ErrIdempotent
	}

	reason := le.Reason
	if !model.ValidEscalationReason(reason) {
		reason = string(model.ReasonAIUncertainty)
	}
	priority := le.Priority
	if priority == "" {
		priority = string(model.PriorityMedium)
	}

	if _, err := e.Stores.Escalations.Create(ctx, tenantID, &model.Escalation{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		SessionID:    sess.ID,
		Reason:       model.EscalationReason(reason),
		Priority:     model.EscalationPriority(priority),
		Status:       model.EscalationOpen,
		AISummary:    le.Summary,
		AIConfidence: le.Confidence,
	}); err != nil {
		return err
	}
	metrics.RecordEscalation(tenantID, reason)
	e.broadcast(tenantID, "escalation_created", map[string]string{"session": sess.ID, "reason": reason, "priority": priority})

	sess.Escalated = true
	sess.Status = model.SessionPaused

	// Pending follow-ups are already cleared unconditionally at the top
	// of processTurn for every inbound reply; no need to cancel again here.

	if e.Notify != nil {
		alert := notify.Alert{
			TenantID:  tenantID,
			SessionID: sess.ID,
			Reason:    reason,
			Priority:  priority,
			Summary:   le.Summary,
		}
		if err := e.Notify.Notify(ctx, alert); err != nil {
			slog.Warn("escalation notify failed", "session", sess.ID, "error", err)
		}
	}

	return nil
}

// applyDeposit records a confirmed deposit and marks the contact.
func (e *Engine) applyDeposit(ctx context.Context, tenantID string, sess *model.Session, dp model.DepositIntent) error {
	if err := e.Stores.Deposits.Record(ctx, tenantID, &model.DepositEvent{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		SessionID: sess.ID,
		ContactID: sess.ContactID,
		Amount:    dp.Amount,
		Currency:  dp.Currency,
		Reasoning: dp.Reasoning,
	}); err != nil {
		return err
	}

	contact, err := e.Stores.Contacts.FindByID(ctx, tenantID, sess.ContactID)
	if err != nil {
		return err
	}
	contact.DepositConfirmed = true
	return e.Stores.Contacts.Update(ctx, tenantID, contact)
}
