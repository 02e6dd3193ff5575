package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// It serves "provider/model" names for backends without a dedicated adapter
// and requests JSON output through the prompt.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string

	// gollm keeps request options on the LLM value, so calls are serialized.
	mu sync.Mutex
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string) (*GollmAdapter, error) {
	var model string
	switch provider {
	case "ollama":
		model = "llama3.1"
	case "groq":
		model = "llama-3.3-70b-versatile"
	case "mistral":
		model = "mistral-large-latest"
	default:
		return nil, fmt.Errorf("no default model for provider %s", provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(8192),
		gollm.SetTemperature(0.2),
		gollm.SetMaxRetries(0), // retries belong to the caller
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvent objects.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	ch := make(chan StreamEvent, 64)

	a.mu.Lock()
	a.applyRequestOptions(req)
	if !a.llm.SupportsStreaming() {
		// Fallback: generate full response and emit as single delta.
		go func() {
			defer close(ch)
			defer a.mu.Unlock()
			ch <- StreamEvent{Type: StreamStart}

			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			emitText(ctx, ch, a.buildResponse(req, text))
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}

		textID := "text_0"
		started := false
		var fullText strings.Builder

		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			if token == nil {
				continue
			}

			if !started {
				if !send(ctx, ch, StreamEvent{Type: TextStart, TextID: textID}) {
					return
				}
				started = true
			}

			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: token.Text, TextID: textID}) {
				return
			}
			fullText.WriteString(token.Text)
		}

		if !started {
			textID = ""
		}
		finishStream(ctx, ch, textID, a.buildResponse(req, fullText.String()))
	}()

	return ch, nil
}

// translateRequest converts a unified Request into a gollm Prompt. gollm
// takes a single prompt string, so earlier turns are flattened into it.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	systemPrompt, turns := req.SplitSystem()

	var userParts []string
	for _, msg := range turns {
		text := msg.TextContent()
		if text == "" {
			continue
		}
		if msg.Role == RoleAssistant {
			userParts = append(userParts, "[Assistant]: "+text)
			continue
		}
		userParts = append(userParts, text)
	}

	if rf := req.ResponseFormat; rf != nil && rf.Type != "text" {
		instruction := "Respond with a single JSON object and nothing else."
		if len(rf.JSONSchema) > 0 {
			if schema, err := json.Marshal(rf.JSONSchema); err == nil {
				instruction += " The object must conform to this JSON Schema:\n" + string(schema)
			}
		}
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + instruction)
	}

	promptText := strings.Join(userParts, "\n\n")
	if promptText == "" {
		promptText = "Continue."
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(systemPrompt, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	input := estimateTokens(req)
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop", Raw: "stop"},
		Usage: Usage{
			// gollm doesn't expose usage; estimate from text length.
			InputTokens:  input,
			OutputTokens: len(text) / 4,
			TotalTokens:  input + len(text)/4,
		},
	}
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	return classifyMessage(a.provider, err)
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.TextContent()) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
