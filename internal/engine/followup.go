package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/llm"
	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/statemachine"
)

// FollowupResult is what a dynamic (ConfigName == "") follow-up step
// produces: a response ready for channel delivery, plus the state
// config active when it was generated (the worker uses its follow-up
// sequence to schedule the next step).
type FollowupResult struct {
	Response   channels.OutboundResponse
	StateConfig model.StateConfig
}

// GenerateFollowup is the fallback the Follow-up Worker calls for a
// dynamic follow-up step that names no FollowupConfig: it asks the LLM
// to write one contextual nudge from the session's history and current
// state, rather than rendering a fixed template (spec.md §4's
// FollowupStep "ConfigName empty => dynamic").
func (e *Engine) GenerateFollowup(ctx context.Context, tenantID, sessionID string) (*FollowupResult, error) {
	sess, err := e.Stores.Sessions.FindByID(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load session %s: %v", ErrPrecondition, sessionID, err)
	}

	stateCfg, err := e.ActiveStateConfig(ctx, tenantID, sess)
	if err != nil {
		return nil, err
	}

	history, err := e.Stores.Messages.GetRecent(ctx, tenantID, sessionID, e.historyLimit())
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrTransient, err)
	}

	systemPrompt := fmt.Sprintf(
		"You are writing a short, friendly follow-up message to re-engage a contact who has gone quiet.\n"+
			"Current conversation state: %s\nObjective: %s\n"+
			"Write exactly one short message, no preamble, no JSON — just the message text itself.",
		stateCfg.ID, stateCfg.Objective,
	)

	result, err := e.LLM.GenerateResponse(ctx, llm.GenerateRequest{
		Messages:     historyToLLMMessages(history, "(no new message — write a follow-up to re-engage)"),
		SystemPrompt: systemPrompt,
		Temperature:  0.5,
		MaxTokens:    256,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate follow-up: %v", ErrTransient, err)
	}

	return &FollowupResult{
		Response: channels.OutboundResponse{
			Type:    model.MessageText,
			Content: strings.TrimSpace(result.Content),
		},
		StateConfig: *stateCfg,
	}, nil
}

// ActiveStateConfig loads a session's current state config off its
// tenant's active state machine, the lookup GenerateFollowup and the
// follow-up worker's named-config dispatch both need.
func (e *Engine) ActiveStateConfig(ctx context.Context, tenantID string, sess *model.Session) (*model.StateConfig, error) {
	tenant, err := e.Stores.Tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: load tenant: %v", ErrPrecondition, err)
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
	return &stateCfg, nil
}

// GenerateFollowupVariable resolves one llm-typed FollowupVariable by
// asking the LLM to produce a short value for the given prompt, with no
// system framing beyond the prompt itself since the config author
// writes the full instruction.
func (e *Engine) GenerateFollowupVariable(ctx context.Context, prompt string) (string, error) {
	result, err := e.LLM.GenerateResponse(ctx, llm.GenerateRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   128,
	})
	if err != nil {
		return "", fmt.Errorf("%w: generate follow-up variable: %v", ErrTransient, err)
	}
	return strings.TrimSpace(result.Content), nil
}

// VariableGenerator adapts Engine to followup.VariableGenerator's
// Generate(ctx, prompt) shape, so the worker can pass an Engine
// directly wherever Render needs to resolve llm-typed variables.
func (e *Engine) VariableGenerator() followupVariableGenerator {
	return followupVariableGenerator{e: e}
}

type followupVariableGenerator struct{ e *Engine }

func (g followupVariableGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.e.GenerateFollowupVariable(ctx, prompt)
}
