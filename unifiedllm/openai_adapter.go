package unifiedllm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter implements the structured output convention: the response
// schema is sent as a json_schema response_format.
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter creates an adapter. An empty apiKey is a configuration
// error.
func NewOpenAIAdapter(apiKey, baseURL string) (*OpenAIAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, NewConfigurationError("openai: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...)}, nil
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return ProviderOpenAI }

func (a *OpenAIAdapter) buildParams(req Request) openai.ChatCompletionNewParams {
	system, turns := req.SplitSystem()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, msg := range turns {
		text := msg.TextContent()
		if text == "" {
			continue
		}
		if msg.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(text))
			continue
		}
		messages = append(messages, openai.UserMessage(text))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if rf := req.ResponseFormat; rf != nil {
		switch {
		case len(rf.JSONSchema) > 0:
			name := rf.Name
			if name == "" {
				name = "response"
			}
			schema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: rf.JSONSchema,
				Strict: openai.Bool(rf.Strict),
			}
			if rf.Description != "" {
				schema.Description = openai.String(rf.Description)
			}
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: schema},
			}
		case rf.Type == "json":
			obj := shared.NewResponseFormatJSONObjectParam()
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}
		}
	}
	return params
}

// Complete sends a blocking request and returns the full response.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	completion, err := a.client.Chat.Completions.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	return openAIResponse(req, completion), nil
}

// Stream delivers content deltas and accumulates the completion.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params := a.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan StreamEvent, 64)

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}
		textID := "text_0"
		ch <- StreamEvent{Type: TextStart, TextID: textID}

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: chunk.Choices[0].Delta.Content, TextID: textID}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: translateOpenAIError(err)})
			return
		}
		finishStream(ctx, ch, textID, openAIResponse(req, &acc.ChatCompletion))
	}()
	return ch, nil
}

func openAIResponse(req Request, completion *openai.ChatCompletion) *Response {
	var text string
	finish := FinishReason{Reason: "stop"}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		text = choice.Message.Content
		if text == "" && choice.Message.Refusal != "" {
			text = choice.Message.Refusal
			finish.Reason = "content_filter"
		}
		finish.Raw = choice.FinishReason
		if choice.FinishReason == "length" {
			finish.Reason = "length"
		}
	}
	return &Response{
		ID:           completion.ID,
		Model:        req.Model,
		Provider:     ProviderOpenAI,
		Message:      AssistantMessage(text),
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
}

func translateOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Message, ProviderOpenAI, apiErr.Code, nil)
	}
	return classifyMessage(ProviderOpenAI, err)
}
