package unifiedllm

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// GeminiAdapter implements the native JSON mode convention: JSON output is
// requested through the response MIME type, and the system instruction is a
// separate field from the turn history.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates an adapter. An empty apiKey is a configuration
// error.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, NewConfigurationError("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: create client", Cause: err}}
	}
	return &GeminiAdapter{client: client}, nil
}

// Name returns the provider identifier.
func (a *GeminiAdapter) Name() string { return ProviderGemini }

func (a *GeminiAdapter) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := req.SplitSystem()

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		text := msg.TextContent()
		if text == "" {
			continue
		}
		role := string(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}})
	}
	if len(contents) == 0 {
		contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{Text: "Continue."}}})
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if rf := req.ResponseFormat; rf != nil && rf.Type != "text" {
		config.ResponseMIMEType = "application/json"
		if len(rf.JSONSchema) > 0 {
			config.ResponseSchema = toGenaiSchema(rf.JSONSchema)
		}
	}
	return contents, config
}

// Complete sends a blocking request and returns the full response.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, config := a.buildRequest(req)
	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classifyMessage(ProviderGemini, err)
	}
	return geminiResponse(req, resp.Text(), resp), nil
}

// Stream delivers chunk text as deltas.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	contents, config := a.buildRequest(req)
	ch := make(chan StreamEvent, 64)

	go func() {
		defer close(ch)
		ch <- StreamEvent{Type: StreamStart}
		textID := "text_0"
		ch <- StreamEvent{Type: TextStart, TextID: textID}

		var full strings.Builder
		var last *genai.GenerateContentResponse
		for chunk, err := range a.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: classifyMessage(ProviderGemini, err)})
				return
			}
			last = chunk
			text := chunk.Text()
			if text == "" {
				continue
			}
			full.WriteString(text)
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: text, TextID: textID}) {
				return
			}
		}
		finishStream(ctx, ch, textID, geminiResponse(req, full.String(), last))
	}()
	return ch, nil
}

func geminiResponse(req Request, text string, raw *genai.GenerateContentResponse) *Response {
	resp := &Response{
		Model:        req.Model,
		Provider:     ProviderGemini,
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop"},
	}
	if raw == nil {
		return resp
	}
	resp.ID = raw.ResponseID
	if len(raw.Candidates) > 0 {
		reason := string(raw.Candidates[0].FinishReason)
		resp.FinishReason.Raw = reason
		switch raw.Candidates[0].FinishReason {
		case genai.FinishReasonMaxTokens:
			resp.FinishReason.Reason = "length"
		case genai.FinishReasonSafety:
			resp.FinishReason.Reason = "content_filter"
		}
	}
	if u := raw.UsageMetadata; u != nil {
		resp.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return resp
}

// toGenaiSchema converts a JSON Schema map into the genai schema type.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	s.Required = schemaRequired(schema)
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}
