// Package statemachine is the State Machine Runtime (spec.md §4.2): it
// loads a tenant's active state graph, validates transitions against
// it, and assembles the per-state prompt block the engine inserts into
// the system prompt. The runtime is pure over the loaded config — it
// never mutates the graph.
package statemachine

import (
	"fmt"
	"strings"

	"github.com/qbloq/agentico/internal/model"
)

// Runtime wraps one loaded StateMachine and answers transition/context
// queries against it without mutating the underlying graph.
type Runtime struct {
	machine *model.StateMachine
}

// New validates every target in allowedTransitions is a known state
// (spec.md §3 invariant) before wrapping the graph.
func New(machine *model.StateMachine) (*Runtime, error) {
	if machine == nil {
		return nil, fmt.Errorf("nil state machine")
	}
	if _, ok := machine.States[machine.InitialState]; !ok {
		return nil, fmt.Errorf("state machine %q: initial state %q is not a defined state", machine.Name, machine.InitialState)
	}
	for id, state := range machine.States {
		for _, target := range state.AllowedTransitions {
			if _, ok := machine.States[target]; !ok {
				return nil, fmt.Errorf("state machine %q: state %q allows transition to undefined state %q", machine.Name, id, target)
			}
		}
	}
	return &Runtime{machine: machine}, nil
}

func (r *Runtime) InitialState() string { return r.machine.InitialState }

func (r *Runtime) State(id string) (model.StateConfig, bool) {
	s, ok := r.machine.States[id]
	return s, ok
}

// CanTransitionTo reports whether `to` is in `from`'s allowed
// transitions. A self-loop (from == to) is always permitted (spec.md
// §4.2 edge cases), even when not explicitly listed.
func (r *Runtime) CanTransitionTo(from, to string) bool {
	if from == to {
		if _, ok := r.machine.States[to]; ok {
			return true
		}
		return false
	}
	state, ok := r.machine.States[from]
	if !ok {
		return false
	}
	for _, target := range state.AllowedTransitions {
		if target == to {
			return true
		}
	}
	return false
}

// BuildTransitionContext renders the block inserted into the system
// prompt for the current state: its objective, description, completion
// signals, and transition guidance toward each allowed target.
func (r *Runtime) BuildTransitionContext(current string) (string, error) {
	state, ok := r.machine.States[current]
	if !ok {
		return "", fmt.Errorf("unknown state %q", current)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current state: %s\n", state.ID)
	if state.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", state.Objective)
	}
	if state.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", state.Description)
	}
	if len(state.CompletionSignals) > 0 {
		fmt.Fprintf(&b, "Completion signals: %s\n", strings.Join(state.CompletionSignals, ", "))
	}
	if len(state.AllowedTransitions) > 0 {
		b.WriteString("Allowed transitions:\n")
		for _, target := range state.AllowedTransitions {
			guidance := state.TransitionGuidance[target]
			if guidance == "" {
				fmt.Fprintf(&b, "  - %s\n", target)
			} else {
				fmt.Fprintf(&b, "  - %s: %s\n", target, guidance)
			}
		}
	}
	return b.String(), nil
}
