package llm

import "testing"

func TestNewAnthropicProviderAppliesOptions(t *testing.T) {
	p := NewAnthropicProvider("test-key", WithModel("claude-opus-4"), WithMaxTokens(8192))
	if p.defaultModel != "claude-opus-4" {
		t.Errorf("unexpected default model %q", p.defaultModel)
	}
	if p.maxTokens != 8192 {
		t.Errorf("unexpected max tokens %d", p.maxTokens)
	}
}

func TestNewAnthropicProviderDefaults(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	if p.defaultModel != defaultModel {
		t.Errorf("unexpected default model %q", p.defaultModel)
	}
	if p.maxTokens != 4096 {
		t.Errorf("unexpected default max tokens %d", p.maxTokens)
	}
}
