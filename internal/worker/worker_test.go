package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/debounce"
	"github.com/qbloq/agentico/internal/engine"
	"github.com/qbloq/agentico/internal/followup"
	"github.com/qbloq/agentico/internal/llm"
	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/store"
)

// ---- minimal fakes, mirroring internal/engine's and internal/debounce's ----

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

type fakeContactStore struct{ contact *model.Contact }

func (f *fakeContactStore) FindOrCreateByChannelUser(ctx context.Context, tenantID string, kind model.ChannelKind, channelUser string) (*model.Contact, error) {
	return f.contact, nil
}
func (f *fakeContactStore) FindByID(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	return f.contact, nil
}
func (f *fakeContactStore) Update(ctx context.Context, tenantID string, c *model.Contact) error {
	return nil
}
func (f *fakeContactStore) Delete(ctx context.Context, tenantID, contactID string) error { return nil }

type fakeSessionStore struct{ session *model.Session }

func (f *fakeSessionStore) FindByKey(ctx context.Context, tenantID string, ch model.ChannelTriple) (*model.Session, error) {
	return f.session, nil
}
func (f *fakeSessionStore) FindByID(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	return f.session, nil
}
func (f *fakeSessionStore) Create(ctx context.Context, tenantID string, ch model.ChannelTriple, contactID, initialState string) (*model.Session, error) {
	f.session = &model.Session{ID: "new", TenantID: tenantID, CurrentState: initialState}
	return f.session, nil
}
func (f *fakeSessionStore) Update(ctx context.Context, tenantID string, s *model.Session) error {
	f.session = s
	return nil
}

type fakeMessageStore struct{ saved []model.Message }

func (f *fakeMessageStore) GetRecent(ctx context.Context, tenantID, sessionID string, limit int) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeMessageStore) Save(ctx context.Context, tenantID, sessionID string, msg *model.Message) error {
	f.saved = append(f.saved, *msg)
	return nil
}

type fakeEscalationStore struct{}

func (f *fakeEscalationStore) Create(ctx context.Context, tenantID string, e *model.Escalation) (*model.Escalation, error) {
	return e, nil
}
func (f *fakeEscalationStore) HasActive(ctx context.Context, tenantID, sessionID string) (bool, error) {
	return false, nil
}
func (f *fakeEscalationStore) Resolve(ctx context.Context, tenantID, escalationID string) error {
	return nil
}

// fakeFollowupStore backs both the Scheduler and the FollowupWorker under
// test, tracking claims/sends/config lookups.
type fakeFollowupStore struct {
	due          []model.FollowupQueueItem
	configs      map[string]*model.FollowupConfig
	claimed      []string
	sent         []string
	failed       []string
	scheduled    []string
	cleanupCalls int
}

func (f *fakeFollowupStore) ScheduleNext(ctx context.Context, tenantID, sessionID, state string, currentIndex int, seq []model.FollowupStep) error {
	f.scheduled = append(f.scheduled, sessionID)
	return nil
}
func (f *fakeFollowupStore) CancelPending(ctx context.Context, tenantID, sessionID string) error {
	return nil
}
func (f *fakeFollowupStore) DueItems(ctx context.Context, tenantID string, now time.Time) ([]model.FollowupQueueItem, error) {
	return f.due, nil
}
func (f *fakeFollowupStore) Claim(ctx context.Context, tenantID, itemID string, now time.Time) (bool, error) {
	f.claimed = append(f.claimed, itemID)
	return true, nil
}
func (f *fakeFollowupStore) MarkSent(ctx context.Context, tenantID, itemID string, sentAt time.Time) error {
	f.sent = append(f.sent, itemID)
	return nil
}
func (f *fakeFollowupStore) MarkFailed(ctx context.Context, tenantID, itemID, errMsg string) error {
	f.failed = append(f.failed, itemID)
	return nil
}
func (f *fakeFollowupStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	f.cleanupCalls++
	return 0, nil
}
func (f *fakeFollowupStore) GetConfig(ctx context.Context, tenantID, name string) (*model.FollowupConfig, error) {
	cfg, ok := f.configs[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return cfg, nil
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

type fakeDepositStore struct{}

func (f *fakeDepositStore) Record(ctx context.Context, tenantID string, d *model.DepositEvent) error {
	return nil
}

type fakeBufferStore struct {
	rows         []model.BufferedMessage
	cleanupCalls int
}

func (f *fakeBufferStore) Add(ctx context.Context, tenantID string, buf *model.BufferedMessage, delay time.Duration) error {
	f.rows = append(f.rows, *buf)
	return nil
}
func (f *fakeBufferStore) GetMatureSessions(ctx context.Context, tenantID, endpointID string, now time.Time) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, r := range f.rows {
		if !seen[r.SessionKeyHash] {
			seen[r.SessionKeyHash] = true
			out = append(out, r.SessionKeyHash)
		}
	}
	return out, nil
}
func (f *fakeBufferStore) ClaimSession(ctx context.Context, tenantID, sessionKeyHash string, now time.Time) (bool, error) {
	return true, nil
}
func (f *fakeBufferStore) GetBySession(ctx context.Context, tenantID, sessionKeyHash string) ([]model.BufferedMessage, error) {
	var out []model.BufferedMessage
	for _, r := range f.rows {
		if r.SessionKeyHash == sessionKeyHash {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeBufferStore) DeleteByIDs(ctx context.Context, tenantID string, ids []string) error {
	deleted := map[string]bool{}
	for _, id := range ids {
		deleted[id] = true
	}
	remaining := f.rows[:0]
	for _, r := range f.rows {
		if !deleted[r.ID] {
			remaining = append(remaining, r)
		}
	}
	f.rows = remaining
	return nil
}
func (f *fakeBufferStore) MarkForRetry(ctx context.Context, tenantID string, ids []string, lastErr string) error {
	return nil
}
func (f *fakeBufferStore) HasPendingMessages(ctx context.Context, tenantID, sessionKeyHash string) (bool, error) {
	return len(f.rows) > 0, nil
}
func (f *fakeBufferStore) CleanupStaleLocks(ctx context.Context, olderThan time.Duration) (int, error) {
	f.cleanupCalls++
	return 0, nil
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResult{Content: f.response}, nil
}

type fakeWorkerLockStore struct {
	held      map[string]bool
	acquireAt map[string]int
}

func newFakeWorkerLockStore() *fakeWorkerLockStore {
	return &fakeWorkerLockStore{held: map[string]bool{}, acquireAt: map[string]int{}}
}

func (f *fakeWorkerLockStore) Acquire(ctx context.Context, name string, ttl time.Duration, now time.Time) (bool, error) {
	f.acquireAt[name]++
	if f.held[name] {
		return false, nil
	}
	f.held[name] = true
	return true, nil
}
func (f *fakeWorkerLockStore) Release(ctx context.Context, name string) error {
	delete(f.held, name)
	return nil
}

// fakeAdapter is a minimal channels.ChannelAdapter double.
type fakeAdapter struct {
	kind           model.ChannelKind
	enforcesWindow bool
	sent           []channels.OutboundResponse
	sendErr        error
}

func (a *fakeAdapter) Kind() model.ChannelKind { return a.kind }
func (a *fakeAdapter) VerifySignature(cred model.ChannelCredential, rawBody []byte, signatureHeader string) bool {
	return true
}
func (a *fakeAdapter) Parse(rawBody []byte) ([]channels.ParsedMessage, error) { return nil, nil }
func (a *fakeAdapter) Send(ctx context.Context, cred model.ChannelCredential, to string, resp channels.OutboundResponse) (*channels.SendResult, error) {
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.sent = append(a.sent, resp)
	return &channels.SendResult{PlatformMsgID: "wamid.1", DeliveryStatus: model.DeliverySent}, nil
}
func (a *fakeAdapter) EnforcesSessionWindow() bool { return a.enforcesWindow }

func testMachine() *model.StateMachine {
	return &model.StateMachine{
		Name:         "sales",
		InitialState: "greeting",
		Active:       true,
		States: map[string]model.StateConfig{
			"greeting": {ID: "greeting", Objective: "say hi", AllowedTransitions: []string{"qualifying"}},
			"qualifying": {
				ID:               "qualifying",
				FollowupSequence: []model.FollowupStep{{ConfigName: "", Interval: "1h"}, {ConfigName: "nudge", Interval: "1d"}},
			},
		},
	}
}

type testFixture struct {
	stores    *store.Stores
	followups *fakeFollowupStore
	buffer    *fakeBufferStore
	locks     *fakeWorkerLockStore
	engine    *engine.Engine
	scheduler *followup.Scheduler
	registry  *channels.Registry
	adapter   *fakeAdapter
}

func newFixture(llmResp string) *testFixture {
	tenant := &model.TenantConfig{
		ID:                 "t1",
		ActiveStateMachine: "sales",
		ChannelCredentials: map[model.ChannelKind]model.ChannelCredential{model.ChannelWhatsApp: {Kind: model.ChannelWhatsApp}},
	}
	contact := &model.Contact{ID: "c1", TenantID: "t1"}
	sess := &model.Session{
		ID: "s1", TenantID: "t1", ContactID: "c1", CurrentState: "qualifying",
		Status: model.SessionActive, Context: map[string]any{}, LastMessageAt: time.Now(),
		Channel: model.ChannelTriple{Kind: model.ChannelWhatsApp, EndpointID: "ep1", UserID: "u1"},
	}
	followups := &fakeFollowupStore{configs: map[string]*model.FollowupConfig{
		"nudge": {Name: "nudge", Type: model.FollowupText, Body: "Still there, {{first_name}}?", Variables: []model.FollowupVariable{{Key: "first_name", Type: model.VariableLiteral, Value: "Sam"}}},
	}}
	buffer := &fakeBufferStore{}
	locks := newFakeWorkerLockStore()

	stores := &store.Stores{
		Tenants:       &fakeTenantStore{tenant: tenant},
		Contacts:      &fakeContactStore{contact: contact},
		Sessions:      &fakeSessionStore{session: sess},
		Messages:      &fakeMessageStore{},
		Buffer:        buffer,
		Escalations:   &fakeEscalationStore{},
		Followups:     followups,
		StateMachines: &fakeStateMachineStore{machine: testMachine()},
		Knowledge:     &fakeKnowledgeStore{},
		Examples:      &fakeExampleStore{},
		WorkerLocks:   locks,
		Deposits:      &fakeDepositStore{},
	}

	sched := followup.NewScheduler(followups)
	eng := engine.New(engine.Deps{Stores: stores, LLM: &fakeLLM{response: llmResp}, Followups: sched})

	adapter := &fakeAdapter{kind: model.ChannelWhatsApp, enforcesWindow: true}
	registry := channels.NewRegistry()
	registry.Register(adapter)

	return &testFixture{stores: stores, followups: followups, buffer: buffer, locks: locks, engine: eng, scheduler: sched, registry: registry, adapter: adapter}
}

func TestHarnessRunsWorkUntilNoMoreWork(t *testing.T) {
	locks := newFakeWorkerLockStore()
	h := NewHarness(locks)

	calls := 0
	err := h.Run(context.Background(), "debounce", time.Minute, func(ctx context.Context) (bool, error) {
		calls++
		return calls < 3, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected work to run 3 times, ran %d", calls)
	}
	if locks.held["debounce"] {
		t.Error("expected lock released after Run returns")
	}
}

func TestHarnessSkipsWhenLockHeldElsewhere(t *testing.T) {
	locks := newFakeWorkerLockStore()
	locks.held["debounce"] = true

	h := NewHarness(locks)
	calls := 0
	err := h.Run(context.Background(), "debounce", time.Minute, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 0 {
		t.Error("expected work to never run when lock is held elsewhere")
	}
}

func TestHarnessStopsAtBudgetExhaustion(t *testing.T) {
	locks := newFakeWorkerLockStore()
	h := NewHarness(locks)

	calls := 0
	err := h.Run(context.Background(), "debounce", 0, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected zero-budget Run to never call work, called %d times", calls)
	}
}

func TestFollowupWorkerDispatchesNamedConfig(t *testing.T) {
	fx := newFixture("")
	fx.followups.due = []model.FollowupQueueItem{
		{ID: "f1", TenantID: "t1", SessionID: "s1", ConfigName: "nudge", SequenceIndex: 1},
	}

	w := NewFollowupWorker(fx.stores, fx.engine, fx.scheduler, fx.registry)
	hasMore, err := w.RunOnce(context.Background(), "t1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !hasMore {
		t.Error("expected hasMore true when due items were present")
	}
	if len(fx.adapter.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(fx.adapter.sent))
	}
	if fx.adapter.sent[0].Content != "Still there, Sam?" {
		t.Errorf("expected rendered variable substitution, got %q", fx.adapter.sent[0].Content)
	}
	if len(fx.followups.sent) != 1 || fx.followups.sent[0] != "f1" {
		t.Errorf("expected item f1 marked sent, got %v", fx.followups.sent)
	}
}

func TestFollowupWorkerForcesTemplateFallbackOutsideWindow(t *testing.T) {
	fx := newFixture("")
	fx.stores.Sessions.(*fakeSessionStore).session.LastMessageAt = time.Now().Add(-48 * time.Hour)
	fx.followups.due = []model.FollowupQueueItem{
		{ID: "f1", TenantID: "t1", SessionID: "s1", ConfigName: "nudge", SequenceIndex: 1},
	}

	w := NewFollowupWorker(fx.stores, fx.engine, fx.scheduler, fx.registry)
	if _, err := w.RunOnce(context.Background(), "t1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(fx.adapter.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(fx.adapter.sent))
	}
	if fx.adapter.sent[0].TemplateName != fallbackFollowupTemplate {
		t.Errorf("expected forced fallback template %q, got %q", fallbackFollowupTemplate, fx.adapter.sent[0].TemplateName)
	}
}

func TestFollowupWorkerUsesDynamicGenerationWhenNoConfigNamed(t *testing.T) {
	fx := newFixture("quick nudge back to you")
	fx.followups.due = []model.FollowupQueueItem{
		{ID: "f2", TenantID: "t1", SessionID: "s1", ConfigName: "", SequenceIndex: 0},
	}

	w := NewFollowupWorker(fx.stores, fx.engine, fx.scheduler, fx.registry)
	if _, err := w.RunOnce(context.Background(), "t1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(fx.adapter.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(fx.adapter.sent))
	}
	if fx.adapter.sent[0].Content != "quick nudge back to you" {
		t.Errorf("expected LLM-generated content, got %q", fx.adapter.sent[0].Content)
	}
	if len(fx.followups.scheduled) != 1 {
		t.Errorf("expected next sequence step scheduled, got %d schedule calls", len(fx.followups.scheduled))
	}
}

func TestFollowupWorkerMarksFailedOnSendError(t *testing.T) {
	fx := newFixture("")
	fx.adapter.sendErr = errors.New("network down")
	fx.followups.due = []model.FollowupQueueItem{
		{ID: "f1", TenantID: "t1", SessionID: "s1", ConfigName: "nudge", SequenceIndex: 1},
	}

	w := NewFollowupWorker(fx.stores, fx.engine, fx.scheduler, fx.registry)
	if _, err := w.RunOnce(context.Background(), "t1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(fx.followups.failed) != 1 || fx.followups.failed[0] != "f1" {
		t.Errorf("expected item f1 marked failed, got %v", fx.followups.failed)
	}
	if len(fx.followups.sent) != 0 {
		t.Error("expected no item marked sent when send failed")
	}
}

func TestFollowupWorkerReportsNoMoreWorkWhenQueueEmpty(t *testing.T) {
	fx := newFixture("")
	w := NewFollowupWorker(fx.stores, fx.engine, fx.scheduler, fx.registry)
	hasMore, err := w.RunOnce(context.Background(), "t1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if hasMore {
		t.Error("expected hasMore false when the queue is empty")
	}
}

func TestDebounceWorkerDrainsMatureSessions(t *testing.T) {
	fx := newFixture(`{"responses":[{"type":"text","content":"got it"}]}`)
	fx.buffer.rows = []model.BufferedMessage{
		{ID: "b1", SessionKeyHash: "hash1", Channel: model.ChannelTriple{Kind: model.ChannelWhatsApp}, Payload: model.NormalizedMessage{Type: model.MessageText, Content: "hi"}, ReceivedAt: time.Now()},
	}

	pipeline := debounce.New(fx.buffer, fx.engine)
	dw := NewDebounceWorker(pipeline, "t1", "")

	hasMore, err := dw.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !hasMore {
		t.Error("expected hasMore true when mature sessions existed")
	}
	if len(fx.buffer.rows) != 0 {
		t.Errorf("expected drained rows removed, got %d left", len(fx.buffer.rows))
	}
}

func TestDebounceWorkerReportsNoMoreWorkWhenEmpty(t *testing.T) {
	fx := newFixture("")
	pipeline := debounce.New(fx.buffer, fx.engine)
	dw := NewDebounceWorker(pipeline, "t1", "")

	hasMore, err := dw.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if hasMore {
		t.Error("expected hasMore false when there is nothing buffered")
	}
}

type fakeSweeper struct {
	debounceCalls int
	followupCalls int
}

func (s *fakeSweeper) CleanupDebounceLocks(ctx context.Context) (int, error) {
	s.debounceCalls++
	return 0, nil
}
func (s *fakeSweeper) CleanupFollowupLocks(ctx context.Context) (int, error) {
	s.followupCalls++
	return 0, nil
}

func TestHeartbeatSweepsWhenScheduleIsDue(t *testing.T) {
	sweeper := &fakeSweeper{}
	hb := NewHeartbeat(sweeper)
	hb.schedule = "* * * * *" // always due, every minute boundary tolerant

	if err := hb.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sweeper.debounceCalls == 0 || sweeper.followupCalls == 0 {
		t.Errorf("expected both sweeps to run on a due schedule, got debounce=%d followup=%d", sweeper.debounceCalls, sweeper.followupCalls)
	}
}

func TestSweeperDelegatesToPipelineAndFollowupWorker(t *testing.T) {
	fx := newFixture("")
	pipeline := debounce.New(fx.buffer, fx.engine)
	fw := NewFollowupWorker(fx.stores, fx.engine, fx.scheduler, fx.registry)
	sw := NewSweeper(pipeline, fw)

	if _, err := sw.CleanupDebounceLocks(context.Background()); err != nil {
		t.Fatalf("CleanupDebounceLocks: %v", err)
	}
	if _, err := sw.CleanupFollowupLocks(context.Background()); err != nil {
		t.Fatalf("CleanupFollowupLocks: %v", err)
	}
	if fx.buffer.cleanupCalls != 1 {
		t.Errorf("expected buffer cleanup called once, got %d", fx.buffer.cleanupCalls)
	}
	if fx.followups.cleanupCalls != 1 {
		t.Errorf("expected followup cleanup called once, got %d", fx.followups.cleanupCalls)
	}
}
