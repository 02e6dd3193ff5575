package unifiedllm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ResponseToolName is the single tool a tool-schema backend is forced to
// call. Its arguments are the structured response.
const ResponseToolName = "submit_response"

const anthropicDefaultMaxTokens = 8192

// AnthropicAdapter implements the strict tool schema convention: the
// response schema becomes the input schema of one mandatory tool call.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates an adapter. An empty apiKey is a
// configuration error.
func NewAnthropicAdapter(apiKey, baseURL string) (*AnthropicAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, NewConfigurationError("anthropic: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...)}, nil
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	system, turns := req.SplitSystem()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  buildAnthropicMessages(turns),
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if rf := req.ResponseFormat; rf != nil && len(rf.JSONSchema) > 0 {
		description := rf.Description
		if description == "" {
			description = "Submit the structured response for this turn."
		}
		tool := anthropic.ToolParam{
			Name:        ResponseToolName,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: rf.JSONSchema["properties"],
				Required:   schemaRequired(rf.JSONSchema),
			},
		}
		params.Tools = []anthropic.ToolUnionParam{{OfTool: &tool}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: ResponseToolName},
		}
	}
	return params
}

func buildAnthropicMessages(turns []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns)+1)
	for _, msg := range turns {
		text := strings.TrimSpace(msg.TextContent())
		if text == "" {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	}
	if len(out) == 0 || out[0].Role != anthropic.MessageParamRoleUser {
		out = append([]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("Continue."))}, out...)
	}
	return out
}

// Complete sends a blocking request and returns the forced tool arguments
// as the response text.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, translateAnthropicError(err)
	}
	return anthropicResponse(req, msg), nil
}

// Stream delivers text and tool-argument fragments as text deltas.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
	ch := make(chan StreamEvent, 64)

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}
		textID := "text_0"
		ch <- StreamEvent{Type: TextStart, TextID: textID}

		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: &StreamErrorType{SDKError: SDKError{Message: "anthropic: accumulate", Cause: err}}})
				return
			}
			var delta string
			if variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				switch d := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					delta = d.Text
				case anthropic.InputJSONDelta:
					delta = d.PartialJSON
				}
			}
			if delta == "" {
				continue
			}
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: delta, TextID: textID}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: translateAnthropicError(err)})
			return
		}
		finishStream(ctx, ch, textID, anthropicResponse(req, &msg))
	}()
	return ch, nil
}

// anthropicResponse carries the forced tool's input as a tool call part.
// Plain text blocks are kept as text for models that answer in prose anyway.
func anthropicResponse(req Request, msg *anthropic.Message) *Response {
	var text strings.Builder
	var call *ContentPart
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			if variant.Name == ResponseToolName && len(variant.Input) > 0 {
				part := ToolCallPart(variant.ID, variant.Name, variant.Input)
				call = &part
			}
		}
	}

	message := AssistantMessage(text.String())
	finish := FinishReason{Reason: "stop", Raw: string(msg.StopReason)}
	if call != nil {
		message.Content = append(message.Content, *call)
		finish.Reason = "tool_calls"
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		finish.Reason = "length"
	}

	in, outTokens := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &Response{
		ID:           msg.ID,
		Model:        req.Model,
		Provider:     ProviderAnthropic,
		Message:      message,
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: outTokens, TotalTokens: in + outTokens},
	}
}

func translateAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		msg := apiErr.Error()
		// A low credit balance arrives as a 400.
		if status == 400 && isQuotaMessage(msg) {
			status = 402
		}
		return ErrorFromStatusCode(status, msg, ProviderAnthropic, "", nil)
	}
	return classifyMessage(ProviderAnthropic, err)
}

// schemaRequired reads the "required" list of a schema map produced either
// in Go ([]string) or by JSON decoding ([]interface{}).
func schemaRequired(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
