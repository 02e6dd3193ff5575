package unifiedllm

import (
	"errors"
	"strings"
	"testing"
)

func TestGollmAdapterNoDefaultModel(t *testing.T) {
	_, err := NewGollmAdapter("unknown-provider", "key")
	if err == nil {
		t.Fatal("expected error for provider without a default model")
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "ollama"}

	err := adapter.translateError(errors.New("429 rate limit exceeded"))
	rl, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rl.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %q", rl.Provider)
	}
}

func TestGollmTranslateRequestJSONInstruction(t *testing.T) {
	adapter := &GollmAdapter{provider: "ollama"}
	prompt := adapter.translateRequest(Request{
		Model: "llama3.1",
		Messages: []Message{
			SystemMessage("You are a repository agent."),
			UserMessage("Fix the bug."),
			AssistantMessage(`{"status":"continue"}`),
			UserMessage("Continue."),
		},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: map[string]interface{}{"type": "object"},
		},
	})

	if !strings.Contains(prompt.SystemPrompt, "You are a repository agent.") {
		t.Errorf("system prompt missing instruction: %q", prompt.SystemPrompt)
	}
	if !strings.Contains(prompt.SystemPrompt, "single JSON object") {
		t.Errorf("system prompt missing JSON instruction: %q", prompt.SystemPrompt)
	}
	if !strings.Contains(prompt.Input, "[Assistant]: {\"status\":\"continue\"}") {
		t.Errorf("prompt input missing flattened assistant turn: %q", prompt.Input)
	}
}

func TestGollmTranslateRequestEmpty(t *testing.T) {
	adapter := &GollmAdapter{provider: "ollama"}
	prompt := adapter.translateRequest(Request{})
	if prompt.Input != "Continue." {
		t.Errorf("expected placeholder input, got %q", prompt.Input)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{
		Messages: []Message{
			UserMessage("Hello world, this is a test message."),
		},
	}
	tokens := estimateTokens(req)
	if tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	req := Request{Messages: []Message{}}
	tokens := estimateTokens(req)
	if tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
