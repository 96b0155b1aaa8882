package model

// TurnResponse is the tagged JSON object the LLM must return for one turn
// (spec.md §4.1 step 5). Unknown fields are ignored by the decoder.
type TurnResponse struct {
	Responses        []ResponseItem    `json:"responses"`
	Transition       *TransitionIntent `json:"transition,omitempty"`
	Escalation       *EscalationIntent `json:"escalation,omitempty"`
	IsUncertain      bool              `json:"isUncertain,omitempty"`
	ContextUpdates   map[string]any    `json:"contextUpdates,omitempty"`
	DepositConfirmed *DepositIntent    `json:"depositConfirmed,omitempty"`
}

// ResponseItem is one outbound message the engine should persist and deliver.
type ResponseItem struct {
	Type           string   `json:"type"` // "text" | "template" | "image" | "video"
	Content        string   `json:"content"`
	TemplateName   string   `json:"templateName,omitempty"`
	TemplateParams []string `json:"templateParams,omitempty"`
	DelayMs        int      `json:"delayMs,omitempty"`
}

// TransitionIntent requests a state-machine transition.
type TransitionIntent struct {
	To         string  `json:"to"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// EscalationIntent requests a hand-off to a human agent.
type EscalationIntent struct {
	ShouldEscalate bool    `json:"shouldEscalate"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
	Summary        string  `json:"summary"`
	Priority       string  `json:"priority,omitempty"`
}

// DepositIntent records a confirmed deposit amount (spec.md §4.1 step 9).
type DepositIntent struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reasoning string  `json:"reasoning"`
}
