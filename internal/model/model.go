// Package model holds the shared domain types for the conversational
// messaging platform: tenants, contacts, sessions, messages, buffered
// bursts, escalations, state machines, and follow-ups.
package model

import "time"

// ChannelKind identifies a messaging channel integration.
type ChannelKind string

const (
	ChannelWhatsApp ChannelKind = "whatsapp"
	ChannelTelegram ChannelKind = "telegram"
	ChannelDiscord  ChannelKind = "discord"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// MessageDirection distinguishes inbound (user) from outbound (bot) messages.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageType enumerates the content kinds a Message can carry.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageAudio       MessageType = "audio"
	MessageVideo       MessageType = "video"
	MessageTemplate    MessageType = "template"
	MessageInteractive MessageType = "interactive"
	MessageSticker     MessageType = "sticker"
)

// DeliveryStatus tracks an outbound message's delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// EscalationReason is the closed set of reasons an escalation was created.
// Decision recorded in DESIGN.md Open Question (c).
type EscalationReason string

const (
	ReasonExplicitRequest EscalationReason = "explicit_request"
	ReasonAIUncertainty   EscalationReason = "ai_uncertainty"
	ReasonRepeatedFailure EscalationReason = "repeated_failure"
	ReasonPolicyViolation EscalationReason = "policy_violation"
)

// ValidEscalationReason reports whether r is one of the closed set of
// reasons; callers should fall back to ReasonAIUncertainty otherwise.
func ValidEscalationReason(r string) bool {
	switch EscalationReason(r) {
	case ReasonExplicitRequest, ReasonAIUncertainty, ReasonRepeatedFailure, ReasonPolicyViolation:
		return true
	}
	return false
}

// EscalationPriority ranks how urgently a human should pick up a session.
type EscalationPriority string

const (
	PriorityLow    EscalationPriority = "low"
	PriorityMedium EscalationPriority = "medium"
	PriorityHigh   EscalationPriority = "high"
	PriorityUrgent EscalationPriority = "urgent"
)

// EscalationStatus tracks human-agent assignment lifecycle.
type EscalationStatus string

const (
	EscalationOpen       EscalationStatus = "open"
	EscalationAssigned   EscalationStatus = "assigned"
	EscalationInProgress EscalationStatus = "in_progress"
	EscalationResolved   EscalationStatus = "resolved"
	EscalationCancelled  EscalationStatus = "cancelled"
)

// IsTerminal reports whether s is a terminal escalation status.
func (s EscalationStatus) IsTerminal() bool {
	return s == EscalationResolved || s == EscalationCancelled
}

// FollowupType mirrors a Message's send shape for a scheduled follow-up.
type FollowupType string

const (
	FollowupText     FollowupType = "text"
	FollowupTemplate FollowupType = "template"
)

// FollowupQueueStatus tracks a scheduled follow-up's lifecycle.
type FollowupQueueStatus string

const (
	FollowupPending   FollowupQueueStatus = "pending"
	FollowupSent      FollowupQueueStatus = "sent"
	FollowupCancelled FollowupQueueStatus = "cancelled"
	FollowupFailed    FollowupQueueStatus = "failed"
)

// VariableType distinguishes how a FollowupVariable resolves its value.
type VariableType string

const (
	VariableLiteral VariableType = "literal"
	VariableLLM     VariableType = "llm"
	VariableContext VariableType = "context"
)

// ExampleCategory buckets a ConversationExample for few-shot retrieval.
type ExampleCategory string

const (
	ExampleHappyPath  ExampleCategory = "happy_path"
	ExampleDeviation  ExampleCategory = "deviation"
	ExampleEdgeCase   ExampleCategory = "edge_case"
	ExampleComplex    ExampleCategory = "complex"
)

// MaxRetries is the retry ceiling before a buffered session or follow-up
// item is dead-lettered / marked failed (spec.md §4.1, §4.3, §5).
const MaxRetries = 3

// ChannelTriple identifies a session's channel endpoint: the kind of
// channel, the tenant's endpoint on that channel (e.g. WhatsApp phone
// number id), and the remote user id.
type ChannelTriple struct {
	Kind       ChannelKind
	EndpointID string
	UserID     string
}

// TenantConfig is a tenant's isolated runtime configuration (spec.md §3).
type TenantConfig struct {
	ID                  string
	Namespace           string
	StorageBucket       string
	ActiveStateMachine  string
	ChannelCredentials  map[ChannelKind]ChannelCredential
	LLMProvider         string
	DebounceEnabled     bool
	DebounceDelay       time.Duration
	EscalationEnabled   bool
	EscalationNotifyTo  string
	BusinessMetadata    map[string]string
	RateLimitRPS        float64
	RateLimitBurst      int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ChannelCredential holds per-tenant, per-channel-kind secrets and routing info.
type ChannelCredential struct {
	Kind             ChannelKind
	ChannelID        string // e.g. WhatsApp phone_number_id, Telegram bot id
	AccessToken      string
	AppSecret        string // for HMAC webhook signature verification
	WebhookVerifyTok string
	APIBaseURL       string
}

// Contact is a person reachable on one or more channels (spec.md §3).
type Contact struct {
	ID                string
	TenantID          string
	FirstName         string
	LastName          string
	Phone             string
	Language          string
	Timezone          string // display-only, per SPEC_FULL.md §3 expansion
	Registered        bool
	DepositConfirmed  bool
	LifetimeValue     float64
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ContactIdentity links a Contact to a channel user id within a tenant.
type ContactIdentity struct {
	ContactID   string
	TenantID    string
	ChannelKind ChannelKind
	ChannelUser string
}

// Session is a contact's conversation on one channel endpoint (spec.md §3).
type Session struct {
	ID            string
	TenantID      string
	ContactID     string
	Channel       ChannelTriple
	CurrentState  string
	PreviousState string
	Context       map[string]any
	Status        SessionStatus
	Escalated     bool
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransitionRecord is one applied state transition, kept in
// Session.Context's in-context transition history so a later turn (or an
// agent reviewing the session) can see why each move happened.
type TransitionRecord struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Message is one inbound or outbound message within a Session (spec.md §3).
type Message struct {
	ID               string
	TenantID         string
	SessionID        string
	Direction        MessageDirection
	Type             MessageType
	Content          string
	MediaURL         string
	Transcription    string
	ImageAnalysis    string
	TemplateName     string
	PlatformMsgID    string
	DeliveryStatus   DeliveryStatus
	ReplyToMessageID string
	CreatedAt        time.Time
}

// BufferedMessage is one inbound event waiting in the debounce buffer (spec.md §3).
type BufferedMessage struct {
	ID                  string
	TenantID            string
	SessionKeyHash      string
	Channel             ChannelTriple
	Payload             NormalizedMessage
	ReceivedAt          time.Time
	ScheduledProcessAt  time.Time
	ProcessingStartedAt *time.Time
	RetryCount          int
	LastError           string
}

// Escalation is a durable hand-off-to-human record (spec.md §3).
type Escalation struct {
	ID         string
	TenantID   string
	SessionID  string
	Reason     EscalationReason
	Priority   EscalationPriority
	Status     EscalationStatus
	AssignedTo string
	AISummary  string
	AIConfidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DepositEvent records a confirmed deposit (SPEC_FULL.md §3 expansion).
type DepositEvent struct {
	ID        string
	TenantID  string
	SessionID string
	ContactID string
	Amount    float64
	Currency  string
	Reasoning string
	CreatedAt time.Time
}

// StateMachine is a tenant-authored conversation graph (spec.md §3).
type StateMachine struct {
	ID           string
	TenantID     string
	Name         string
	Version      int
	InitialState string
	States       map[string]StateConfig
	Active       bool
}

// StateConfig is one node of a StateMachine.
type StateConfig struct {
	ID                  string
	Objective           string
	Description         string
	CompletionSignals   []string
	RAGCategories        []string
	AllowedTransitions   []string
	TransitionGuidance   map[string]string // target state -> guidance text
	MaxMessages          int               // 0 = unset
	FollowupSequence     []FollowupStep
}

// FollowupStep is one entry in a state's follow-up sequence.
type FollowupStep struct {
	ConfigName string // empty => dynamic (engine.generateFollowup)
	Interval   string // grammar: ^\d+[smhdw]$
}

// FollowupConfig is a named, reusable follow-up template (spec.md §3).
type FollowupConfig struct {
	ID           string
	TenantID     string
	Name         string
	Type         FollowupType
	Body         string // for Type == text
	TemplateName string // for Type == template
	Variables    []FollowupVariable
}

// FollowupVariable describes one substitution slot in a FollowupConfig.
type FollowupVariable struct {
	Key    string
	Type   VariableType
	Value  string // literal
	Prompt string // llm
	Field  string // context
}

// FollowupQueueItem is one scheduled, pending-or-sent follow-up (spec.md §3).
type FollowupQueueItem struct {
	ID                  string
	TenantID            string
	SessionID           string
	ScheduledAt         time.Time
	Type                FollowupType
	ConfigName          string // empty => dynamic
	SequenceIndex       int
	Status              FollowupQueueStatus
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	RetryCount          int
	LastError           string
}

// WorkerLock is the singleton TTL lock row for a named worker (spec.md §3).
type WorkerLock struct {
	Name      string
	LockedAt  time.Time
	ExpiresAt time.Time
}

// KnowledgeEntry is one RAG-retrievable fact (spec.md §3).
type KnowledgeEntry struct {
	ID               string
	Title            string
	Answer           string
	Category         string
	Tags             []string
	Summary          string
	RelatedArticles  []string
	Embedding        []float32
	Priority         int
	Active           bool
}

// ConversationExample is a few-shot transcript used for prompting (spec.md §3).
type ConversationExample struct {
	ID          string
	Scenario    string
	Category    ExampleCategory
	Outcome     string
	PrimaryState string
	StateFlow   []string
	Messages    []ExampleMessage
	Embedding   []float32
}

// ExampleMessage is one turn within a ConversationExample.
type ExampleMessage struct {
	Role    string // "user" | "assistant"
	Content string
	State   string
}

// InteractivePayload carries a WhatsApp button/list reply (spec.md §6).
type InteractivePayload struct {
	Type     string // "button_reply" | "list_reply"
	ButtonID string
	ListID   string
	Title    string
}

// NormalizedMessage is the internal, channel-agnostic inbound contract (spec.md §6).
type NormalizedMessage struct {
	ID                 string
	Timestamp          time.Time
	Type               MessageType
	Content            string
	MediaURL           string
	Transcription      string
	ImageAnalysis      string
	Interactive        *InteractivePayload
	ReplyToMessageID   string
}
