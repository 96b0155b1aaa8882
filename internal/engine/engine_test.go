package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qbloq/agentico/internal/followup"
	"github.com/qbloq/agentico/internal/llm"
	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/notify"
	"github.com/qbloq/agentico/internal/store"
)

// ---- fakes ----

type fakeTenantStore struct{ tenant *model.TenantConfig }

func (f *fakeTenantStore) FindByChannelID(ctx context.Context, kind model.ChannelKind, channelID string) (*model.TenantConfig, error) {
	return f.tenant, nil
}
func (f *fakeTenantStore) ListActive(ctx context.Context) ([]model.TenantConfig, error) {
	return nil, nil
}
func (f *fakeTenantStore) Upsert(ctx context.Context, cfg *model.TenantConfig) error { return nil }
func (f *fakeTenantStore) FindByID(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	return f.tenant, nil
}

type fakeContactStore struct {
	contact *model.Contact
	updated int
}

func (f *fakeContactStore) FindOrCreateByChannelUser(ctx context.Context, tenantID string, kind model.ChannelKind, channelUser string) (*model.Contact, error) {
	return f.contact, nil
}
func (f *fakeContactStore) FindByID(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	return f.contact, nil
}
func (f *fakeContactStore) Update(ctx context.Context, tenantID string, c *model.Contact) error {
	f.updated++
	f.contact = c
	return nil
}
func (f *fakeContactStore) Delete(ctx context.Context, tenantID, contactID string) error { return nil }

type fakeSessionStore struct {
	session *model.Session
	updated []model.Session
}

func (f *fakeSessionStore) FindByKey(ctx context.Context, tenantID string, ch model.ChannelTriple) (*model.Session, error) {
	if f.session == nil {
		return nil, errors.New("not found")
	}
	return f.session, nil
}
func (f *fakeSessionStore) FindByID(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	return f.session, nil
}
func (f *fakeSessionStore) Create(ctx context.Context, tenantID string, ch model.ChannelTriple, contactID, initialState string) (*model.Session, error) {
	f.session = &model.Session{ID: "new-session", TenantID: tenantID, ContactID: contactID, Channel: ch, CurrentState: initialState, Status: model.SessionActive}
	return f.session, nil
}
func (f *fakeSessionStore) Update(ctx context.Context, tenantID string, s *model.Session) error {
	f.updated = append(f.updated, *s)
	f.session = s
	return nil
}

type fakeMessageStore struct {
	history []model.Message
	saved   []model.Message
}

func (f *fakeMessageStore) GetRecent(ctx context.Context, tenantID, sessionID string, limit int) ([]model.Message, error) {
	return f.history, nil
}
func (f *fakeMessageStore) Save(ctx context.Context, tenantID, sessionID string, msg *model.Message) error {
	f.saved = append(f.saved, *msg)
	return nil
}

type fakeBufferStore struct {
	added   []model.BufferedMessage
	bySessn []model.BufferedMessage
	deleted []string
}

func (f *fakeBufferStore) Add(ctx context.Context, tenantID string, buf *model.BufferedMessage, delay time.Duration) error {
	f.added = append(f.added, *buf)
	return nil
}
func (f *fakeBufferStore) GetMatureSessions(ctx context.Context, tenantID, endpointID string, now time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeBufferStore) ClaimSession(ctx context.Context, tenantID, sessionKeyHash string, now time.Time) (bool, error) {
	return true, nil
}
func (f *fakeBufferStore) GetBySession(ctx context.Context, tenantID, sessionKeyHash string) ([]model.BufferedMessage, error) {
	return f.bySessn, nil
}
func (f *fakeBufferStore) DeleteByIDs(ctx context.Context, tenantID string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}
func (f *fakeBufferStore) MarkForRetry(ctx context.Context, tenantID string, ids []string, lastErr string) error {
	return nil
}
func (f *fakeBufferStore) HasPendingMessages(ctx context.Context, tenantID, sessionKeyHash string) (bool, error) {
	return false, nil
}
func (f *fakeBufferStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

type fakeEscalationStore struct {
	active  bool
	created []model.Escalation
}

func (f *fakeEscalationStore) Create(ctx context.Context, tenantID string, e *model.Escalation) (*model.Escalation, error) {
	f.created = append(f.created, *e)
	f.active = true
	return e, nil
}
func (f *fakeEscalationStore) HasActive(ctx context.Context, tenantID, sessionID string) (bool, error) {
	return f.active, nil
}
func (f *fakeEscalationStore) Resolve(ctx context.Context, tenantID, escalationID string) error {
	f.active = false
	return nil
}

type fakeFollowupStore struct {
	scheduled []string
	cancelled []string
}

func (f *fakeFollowupStore) ScheduleNext(ctx context.Context, tenantID, sessionID, state string, currentIndex int, seq []model.FollowupStep) error {
	f.scheduled = append(f.scheduled, sessionID)
	return nil
}
func (f *fakeFollowupStore) CancelPending(ctx context.Context, tenantID, sessionID string) error {
	f.cancelled = append(f.cancelled, sessionID)
	return nil
}
func (f *fakeFollowupStore) DueItems(ctx context.Context, tenantID string, now time.Time) ([]model.FollowupQueueItem, error) {
	return nil, nil
}
func (f *fakeFollowupStore) Claim(ctx context.Context, tenantID, itemID string, now time.Time) (bool, error) {
	return true, nil
}
func (f *fakeFollowupStore) MarkSent(ctx context.Context, tenantID, itemID string, sentAt time.Time) error {
	return nil
}
func (f *fakeFollowupStore) MarkFailed(ctx context.Context, tenantID, itemID, errMsg string) error {
	return nil
}
func (f *fakeFollowupStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeFollowupStore) GetConfig(ctx context.Context, tenantID, name string) (*model.FollowupConfig, error) {
	return nil, errors.New("not found")
}

type fakeStateMachineStore struct{ machine *model.StateMachine }

func (f *fakeStateMachineStore) FindActive(ctx context.Context, tenantID, name string) (*model.StateMachine, error) {
	return f.machine, nil
}
func (f *fakeStateMachineStore) FindByName(ctx context.Context, tenantID, name string, version int) (*model.StateMachine, error) {
	return f.machine, nil
}

type fakeKnowledgeStore struct{}

func (f *fakeKnowledgeStore) FindSimilar(ctx context.Context, embedding []float32, k int, categories []string) ([]model.KnowledgeEntry, error) {
	return nil, nil
}
func (f *fakeKnowledgeStore) FindByCategory(ctx context.Context, category string, k int) ([]model.KnowledgeEntry, error) {
	return nil, nil
}
func (f *fakeKnowledgeStore) FindByTags(ctx context.Context, tags []string, k int) ([]model.KnowledgeEntry, error) {
	return nil, nil
}

type fakeExampleStore struct{}

func (f *fakeExampleStore) FindByState(ctx context.Context, state string, k int) ([]model.ConversationExample, error) {
	return nil, nil
}
func (f *fakeExampleStore) FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.ConversationExample, error) {
	return nil, nil
}

type fakeDepositStore struct{ recorded []model.DepositEvent }

func (f *fakeDepositStore) Record(ctx context.Context, tenantID string, d *model.DepositEvent) error {
	f.recorded = append(f.recorded, *d)
	return nil
}

type fakeLLM struct {
	response string
	err      error
	calls    int
	lastReq  llm.GenerateRequest
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResult{Content: f.response}, nil
}

type fakeNotifySink struct {
	calls int
	last  notify.Alert
}

func (f *fakeNotifySink) Notify(ctx context.Context, alert notify.Alert) error {
	f.calls++
	f.last = alert
	return nil
}

// ---- test fixtures ----

func testMachine() *model.StateMachine {
	return &model.StateMachine{
		ID:           "m1",
		Name:         "sales",
		InitialState: "greeting",
		Active:       true,
		States: map[string]model.StateConfig{
			"greeting": {
				ID:                 "greeting",
				Objective:          "Greet the contact and learn their need",
				AllowedTransitions: []string{"qualifying"},
			},
			"qualifying": {
				ID:                 "qualifying",
				Objective:          "Qualify the lead",
				AllowedTransitions: []string{"greeting", "closed"},
				FollowupSequence:   []model.FollowupStep{{ConfigName: "nudge1", Interval: "1d"}},
			},
			"closed": {
				ID: "closed",
			},
		},
	}
}

func newTestEngine(t *testing.T, llmResp string, session *model.Session) (*Engine, *fakeSessionStore, *fakeMessageStore, *fakeEscalationStore, *fakeFollowupStore, *fakeLLM, *fakeNotifySink) {
	t.Helper()
	tenant := &model.TenantConfig{ID: "t1", ActiveStateMachine: "sales", BusinessMetadata: map[string]string{"name": "Acme"}}
	contact := &model.Contact{ID: "c1", TenantID: "t1"}
	sessStore := &fakeSessionStore{session: session}
	msgStore := &fakeMessageStore{}
	escStore := &fakeEscalationStore{}
	fuStore := &fakeFollowupStore{}
	fakeLLMProvider := &fakeLLM{response: llmResp}
	notifySink := &fakeNotifySink{}

	stores := &store.Stores{
		Tenants:       &fakeTenantStore{tenant: tenant},
		Contacts:      &fakeContactStore{contact: contact},
		Sessions:      sessStore,
		Messages:      msgStore,
		Buffer:        &fakeBufferStore{},
		Escalations:   escStore,
		Followups:     fuStore,
		StateMachines: &fakeStateMachineStore{machine: testMachine()},
		Knowledge:     &fakeKnowledgeStore{},
		Examples:      &fakeExampleStore{},
		Deposits:      &fakeDepositStore{},
	}

	e := New(Deps{
		Stores:    stores,
		LLM:       fakeLLMProvider,
		Notify:    notifySink,
		Followups: followup.NewScheduler(fuStore),
	})
	return e, sessStore, msgStore, escStore, fuStore, fakeLLMProvider, notifySink
}

func baseSession() *model.Session {
	return &model.Session{
		ID:            "s1",
		TenantID:      "t1",
		ContactID:     "c1",
		CurrentState:  "greeting",
		Status:        model.SessionActive,
		Context:       map[string]any{},
		LastMessageAt: time.Now().Add(-time.Minute),
	}
}

func inboundText(text string) model.NormalizedMessage {
	return model.NormalizedMessage{ID: "m1", Timestamp: time.Now(), Type: model.MessageText, Content: text}
}

// ---- tests ----

func TestProcessTurnHappyPathTransitionsAndPersists(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"Nice to meet you, what are you looking for?"}],"transition":{"to":"qualifying","reason":"contact stated their need","confidence":0.9}}`
	e, sessStore, msgStore, _, fuStore, fakeProvider, _ := newTestEngine(t, resp, baseSession())

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("hi"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if len(result.Responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(result.Responses))
	}
	if result.Session.CurrentState != "qualifying" {
		t.Errorf("expected transition to qualifying, got %q", result.Session.CurrentState)
	}
	if fakeProvider.calls != 1 {
		t.Errorf("expected exactly one LLM call, got %d", fakeProvider.calls)
	}
	if len(msgStore.saved) != 2 {
		t.Errorf("expected inbound+outbound message saved, got %d", len(msgStore.saved))
	}
	if len(sessStore.updated) != 1 {
		t.Errorf("expected session to be persisted once, got %d", len(sessStore.updated))
	}
	if len(fuStore.scheduled) != 1 {
		t.Errorf("expected follow-up sequence to be scheduled on entering qualifying, got %d", len(fuStore.scheduled))
	}
}

func TestProcessTurnDropsDisallowedTransition(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"ok"}],"transition":{"to":"closed","reason":"contact asked to stop","confidence":0.8}}`
	e, sessStore, _, _, _, _, _ := newTestEngine(t, resp, baseSession())

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("hi"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if result.Session.CurrentState != "greeting" {
		t.Errorf("expected disallowed transition to be dropped, state stayed %q", result.Session.CurrentState)
	}
	if len(result.Responses) != 1 {
		t.Errorf("expected response to survive even when transition is dropped, got %d", len(result.Responses))
	}
}

func TestProcessTurnCancelsPendingFollowupsOnEveryReply(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"sure, one sec"}]}`
	e, sessStore, _, _, fuStore, _, _ := newTestEngine(t, resp, baseSession())

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("still there?"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if result.Escalated {
		t.Fatal("expected a plain, non-escalating turn")
	}
	if len(fuStore.cancelled) != 1 {
		t.Errorf("expected pending follow-ups cancelled on every inbound reply, got %d", len(fuStore.cancelled))
	}
}

func TestProcessTurnResumeGateHoldsEscalatedSession(t *testing.T) {
	sess := baseSession()
	sess.Escalated = true
	sess.Status = model.SessionPaused
	sess.LastMessageAt = time.Now().Add(-5 * time.Minute)

	e, sessStore, _, escStore, _, fakeProvider, _ := newTestEngine(t, `{"responses":[{"type":"text","content":"hi"}]}`, sess)
	escStore.active = true

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("still here?"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if !result.Escalated {
		t.Error("expected session to remain escalated")
	}
	if len(result.Responses) != 0 {
		t.Errorf("expected no responses while held for agent, got %d", len(result.Responses))
	}
	if fakeProvider.calls != 0 {
		t.Errorf("expected no LLM call while held for agent, got %d", fakeProvider.calls)
	}
}

func TestProcessTurnResumesAfterHoldDurationWithNoActiveEscalation(t *testing.T) {
	sess := baseSession()
	sess.Escalated = true
	sess.Status = model.SessionPaused
	sess.LastMessageAt = time.Now().Add(-2 * time.Hour)

	e, sessStore, _, escStore, _, fakeProvider, _ := newTestEngine(t, `{"responses":[{"type":"text","content":"welcome back"}]}`, sess)
	escStore.active = false

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("hello again"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if result.Escalated {
		t.Error("expected session to resume (no longer escalated)")
	}
	if fakeProvider.calls != 1 {
		t.Errorf("expected exactly one LLM call on resume, got %d", fakeProvider.calls)
	}
}

func TestProcessTurnFallsBackOnUnparsableLLMResponse(t *testing.T) {
	e, sessStore, _, escStore, _, _, notifySink := newTestEngine(t, "not json at all", baseSession())

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("help"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if len(result.Responses) != 1 {
		t.Fatalf("expected one apology response, got %d", len(result.Responses))
	}
	if !result.Escalated {
		t.Error("expected ai_uncertainty safety-net escalation to fire")
	}
	if len(escStore.created) != 1 || escStore.created[0].Reason != model.ReasonAIUncertainty {
		t.Errorf("expected an ai_uncertainty escalation to be created, got %+v", escStore.created)
	}
	if notifySink.calls != 1 {
		t.Errorf("expected notify sink to be called once, got %d", notifySink.calls)
	}
}

func TestProcessTurnEscalationCancelsPendingFollowups(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"Let me get someone to help."}],"escalation":{"shouldEscalate":true,"reason":"explicit_request","priority":"high","summary":"wants a human"}}`
	e, sessStore, _, escStore, fuStore, _, notifySink := newTestEngine(t, resp, baseSession())

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("let me talk to a person"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if !result.Escalated {
		t.Error("expected escalation to be applied")
	}
	if len(escStore.created) != 1 || escStore.created[0].Reason != model.ReasonExplicitRequest {
		t.Errorf("expected explicit_request escalation, got %+v", escStore.created)
	}
	if len(fuStore.cancelled) != 1 {
		t.Errorf("expected pending follow-ups cancelled on escalation, got %d", len(fuStore.cancelled))
	}
	if notifySink.calls != 1 {
		t.Error("expected escalation notify to fire")
	}
}

func TestProcessTurnSecondEscalationIsIdempotent(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"still working on it"}],"escalation":{"shouldEscalate":true,"reason":"ai_uncertainty","priority":"medium","summary":"still unsure"}}`
	sess := baseSession()
	e, sessStore, _, escStore, _, _, _ := newTestEngine(t, resp, sess)
	escStore.active = true

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("hm"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if len(escStore.created) != 0 {
		t.Errorf("expected no new escalation row when one is already active, got %d", len(escStore.created))
	}
	if !result.Escalated {
		t.Error("expected session to remain escalated")
	}
}

func TestProcessTurnDepositConfirmationMarksContact(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"Thanks, deposit received!"}],"depositConfirmed":{"amount":50,"currency":"USD","reasoning":"user sent receipt"}}`
	e, sessStore, _, _, _, _, _ := newTestEngine(t, resp, baseSession())

	_, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("here's my receipt"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}

	deposits := e.Stores.Deposits.(*fakeDepositStore)
	if len(deposits.recorded) != 1 {
		t.Fatalf("expected one deposit event recorded, got %d", len(deposits.recorded))
	}
	if deposits.recorded[0].Amount != 50 {
		t.Errorf("expected amount 50, got %v", deposits.recorded[0].Amount)
	}
	contacts := e.Stores.Contacts.(*fakeContactStore)
	if !contacts.contact.DepositConfirmed {
		t.Error("expected contact.DepositConfirmed to be set")
	}
}

func TestProcessTurnMergesContextUpdates(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"got it"}],"contextUpdates":{"budget":"5000"}}`
	e, sessStore, _, _, _, _, _ := newTestEngine(t, resp, baseSession())

	result, err := e.processTurn(context.Background(), "t1", sessStore.session, inboundText("my budget is 5000"), false)
	if err != nil {
		t.Fatalf("processTurn: %v", err)
	}
	if result.Session.Context["budget"] != "5000" {
		t.Errorf("expected context to be merged with budget update, got %+v", result.Session.Context)
	}
}

func TestSessionKeyHashIsDeterministicAndDistinguishesInputs(t *testing.T) {
	a := SessionKeyHash("t1", model.ChannelTriple{Kind: model.ChannelWhatsApp, EndpointID: "ep1", UserID: "u1"})
	b := SessionKeyHash("t1", model.ChannelTriple{Kind: model.ChannelWhatsApp, EndpointID: "ep1", UserID: "u1"})
	c := SessionKeyHash("t1", model.ChannelTriple{Kind: model.ChannelWhatsApp, EndpointID: "ep1", UserID: "u2"})

	if a != b {
		t.Error("expected identical inputs to hash identically")
	}
	if a == c {
		t.Error("expected different user ids to produce different hashes")
	}
}

func TestIngestMessageBuffers(t *testing.T) {
	e, _, _, _, _, _, _ := newTestEngine(t, "", baseSession())
	ch := model.ChannelTriple{Kind: model.ChannelWhatsApp, EndpointID: "ep1", UserID: "u1"}

	result, err := e.IngestMessage(context.Background(), "t1", ch, inboundText("hi"), 10*time.Second)
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if !result.Buffered {
		t.Error("expected Buffered to be true")
	}
	buf := e.Stores.Buffer.(*fakeBufferStore)
	if len(buf.added) != 1 {
		t.Errorf("expected one buffered row, got %d", len(buf.added))
	}
}

func TestProcessPendingMessagesConcatenatesInReceivedOrder(t *testing.T) {
	resp := `{"responses":[{"type":"text","content":"got your messages"}]}`
	e, _, msgStore, _, _, fakeProvider, _ := newTestEngine(t, resp, baseSession())

	ch := model.ChannelTriple{Kind: model.ChannelWhatsApp, EndpointID: "ep1", UserID: "u1"}
	keyHash := SessionKeyHash("t1", ch)
	buf := e.Stores.Buffer.(*fakeBufferStore)
	buf.bySessn = []model.BufferedMessage{
		{ID: "b1", Channel: ch, Payload: model.NormalizedMessage{Type: model.MessageText, Content: "hello", Timestamp: time.Now()}},
		{ID: "b2", Channel: ch, Payload: model.NormalizedMessage{Type: model.MessageText, Content: "are you open?", Timestamp: time.Now()}},
	}

	result, err := e.ProcessPendingMessages(context.Background(), "t1", keyHash)
	if err != nil {
		t.Fatalf("ProcessPendingMessages: %v", err)
	}
	if len(result.Responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(result.Responses))
	}
	if fakeProvider.calls != 1 {
		t.Errorf("expected a single merged LLM call, got %d", fakeProvider.calls)
	}
	if len(buf.deleted) != 2 {
		t.Errorf("expected both buffered rows deleted after drain, got %d", len(buf.deleted))
	}
	inbound := msgStore.saved[0]
	if inbound.Content != "hello\nare you open?" {
		t.Errorf("expected concatenated content in received order, got %q", inbound.Content)
	}
}

func TestGenerateFollowupUsesStateObjective(t *testing.T) {
	sess := baseSession()
	sess.CurrentState = "qualifying"
	e, sessStore, _, _, _, fakeProvider, _ := newTestEngine(t, "Just checking in, still interested?", sess)
	fakeProvider.response = "Just checking in, still interested?"

	result, err := e.GenerateFollowup(context.Background(), "t1", sessStore.session.ID)
	if err != nil {
		t.Fatalf("GenerateFollowup: %v", err)
	}
	if result.Response.Content != "Just checking in, still interested?" {
		t.Errorf("unexpected follow-up content: %q", result.Response.Content)
	}
	if result.StateConfig.ID != "qualifying" {
		t.Errorf("expected state config for qualifying, got %q", result.StateConfig.ID)
	}
}

func TestGenerateFollowupVariableTrimsWhitespace(t *testing.T) {
	e, _, _, _, _, fakeProvider, _ := newTestEngine(t, "", baseSession())
	fakeProvider.response = "  $49.99  \n"

	val, err := e.GenerateFollowupVariable(context.Background(), "what's the current promo price?")
	if err != nil {
		t.Fatalf("GenerateFollowupVariable: %v", err)
	}
	if val != "$49.99" {
		t.Errorf("expected trimmed value, got %q", val)
	}
}

func TestParseTurnResponseStripsFencedCodeBlock(t *testing.T) {
	raw := "```json\n{\"responses\":[{\"type\":\"text\",\"content\":\"hi\"}]}\n```"
	turn, err := parseTurnResponse(raw)
	if err != nil {
		t.Fatalf("parseTurnResponse: %v", err)
	}
	if len(turn.Responses) != 1 || turn.Responses[0].Content != "hi" {
		t.Errorf("unexpected parsed turn: %+v", turn)
	}
}

func TestParseTurnResponseRejectsEmptyResponses(t *testing.T) {
	_, err := parseTurnResponse(`{"responses":[]}`)
	if !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
}
