package followup

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/qbloq/agentico/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// VariableGenerator resolves the llm-typed variable kind by calling out
// to whatever LLM provider the caller wires in. Defined here rather than
// depending on internal/llm directly, so this package stays usable from
// both the engine and the worker without an import cycle.
type VariableGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Rendered is the outcome of resolving a FollowupConfig against a
// session: either free text (Type == text) or a template name with
// positional params (Type == template), per spec.md §6 "Variable
// substitution grammar".
type Rendered struct {
	Type         model.FollowupType
	Text         string
	TemplateName string
	Params       []string
}

// Render resolves every variable in cfg and substitutes it into the
// body (text) or fills positional template params (template), in
// declared order.
func Render(ctx context.Context, cfg *model.FollowupConfig, sess *model.Session, gen VariableGenerator) (*Rendered, error) {
	values := make([]string, len(cfg.Variables))
	byKey := make(map[string]string, len(cfg.Variables))
	for i, v := range cfg.Variables {
		val, err := resolveVariable(ctx, v, sess, gen)
		if err != nil {
			return nil, fmt.Errorf("resolve variable %q: %w", v.Key, err)
		}
		values[i] = val
		byKey[v.Key] = val
	}

	if cfg.Type == model.FollowupTemplate {
		return &Rendered{Type: model.FollowupTemplate, TemplateName: cfg.TemplateName, Params: values}, nil
	}

	text := placeholderPattern.ReplaceAllStringFunc(cfg.Body, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := byKey[key]; ok {
			return v
		}
		return match
	})
	return &Rendered{Type: model.FollowupText, Text: text}, nil
}

func resolveVariable(ctx context.Context, v model.FollowupVariable, sess *model.Session, gen VariableGenerator) (string, error) {
	switch v.Type {
	case model.VariableLiteral:
		return v.Value, nil
	case model.VariableContext:
		if sess == nil {
			return "", nil
		}
		val, ok := sess.Context[v.Field]
		if !ok {
			return "", nil
		}
		return fmt.Sprint(val), nil
	case model.VariableLLM:
		if gen == nil {
			return "", fmt.Errorf("llm variable %q requires a VariableGenerator", v.Key)
		}
		out, err := gen.Generate(ctx, v.Prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	default:
		return "", fmt.Errorf("unknown variable type %q", v.Type)
	}
}
