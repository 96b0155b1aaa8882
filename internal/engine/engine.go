// Package engine implements the Conversation Engine (spec.md §4.1): the
// per-inbound-event orchestration that loads a session, runs the
// resume-from-agent gate, normalizes media, retrieves RAG context,
// calls the LLM, validates the proposed transition, applies escalation
// and deposit side effects, and persists outbound messages. Grounded on
// the teacher's internal/agent/loop.go Think→Act→Observe shape,
// collapsed from a tool-calling loop into one fixed LLM call per turn
// since the state machine — not a tool-use protocol — drives what
// happens next.
package engine

import (
	"time"

	"github.com/qbloq/agentico/internal/followup"
	"github.com/qbloq/agentico/internal/llm"
	"github.com/qbloq/agentico/internal/media"
	"github.com/qbloq/agentico/internal/notify"
	"github.com/qbloq/agentico/internal/opsstream"
	"github.com/qbloq/agentico/internal/rag"
	"github.com/qbloq/agentico/internal/store"
)

// DefaultHistoryLimit is the default number of recent messages loaded
// for prompt context (spec.md §4.1 step 1, "N configurable, default
// 20").
const DefaultHistoryLimit = 20

// ResumeGateHoldDuration is how long an escalated session stays held
// before the resume-from-agent gate reconsiders it (spec.md §4.1 step
// 2, "now − session.lastMessageAt ≥ 1 hour").
const ResumeGateHoldDuration = 1 * time.Hour

// Engine is the Conversation Engine. One Engine instance serves every
// tenant — tenant identity flows through every call's tenantID
// parameter, never through engine state.
type Engine struct {
	Stores       *store.Stores
	LLM          llm.Provider
	RAG          *rag.Retriever
	Media        *media.Pipeline
	Notify       notify.Sink
	Followups    *followup.Scheduler
	Ops          *opsstream.Hub
	HistoryLimit int
}

// Deps bundles the Engine's collaborators for construction, mirroring
// the teacher's LoopConfig constructor-struct idiom.
type Deps struct {
	Stores    *store.Stores
	LLM       llm.Provider
	RAG       *rag.Retriever
	Media     *media.Pipeline
	Notify    notify.Sink
	Followups *followup.Scheduler
	Ops       *opsstream.Hub
}

func New(deps Deps) *Engine {
	return &Engine{
		Stores:       deps.Stores,
		LLM:          deps.LLM,
		RAG:          deps.RAG,
		Media:        deps.Media,
		Notify:       deps.Notify,
		Followups:    deps.Followups,
		Ops:          deps.Ops,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// broadcast emits an operator-facing event if a live stream is wired,
// a no-op otherwise so tests and the worker-only deployment mode can
// leave Ops nil.
func (e *Engine) broadcast(tenantID, kind string, payload any) {
	if e.Ops == nil {
		return
	}
	e.Ops.Broadcast(opsstream.Event{Tenant: tenantID, Kind: kind, Payload: payload})
}
