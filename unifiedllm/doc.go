// Package unifiedllm is a provider-agnostic completion client for the agent
// loop. Every backend is asked for one structured JSON reply per call; the
// convention used to ask for it depends on the backend.
//
// # Routing
//
// ResolveModel picks the backend from the model name prefix:
//
//   - claude-*: Anthropic, ConventionToolSchema (a forced submit_response tool)
//   - gpt-*, chatgpt-*, o1*, o3*, o4*: OpenAI, ConventionStructuredOutput
//   - gemini-*: Gemini, ConventionJSONMode
//   - provider/model: the gollm adapter for that provider
//
// Any other name is a ConfigurationError, raised before a session starts.
//
// # Client
//
//	anthropic, _ := unifiedllm.NewAnthropicAdapter(os.Getenv("ANTHROPIC_API_KEY"), "")
//	client := unifiedllm.NewClient(unifiedllm.WithProvider(unifiedllm.ProviderAnthropic, anthropic))
//
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Model:          "claude-sonnet-4-5",
//	    Messages:       []unifiedllm.Message{unifiedllm.SystemMessage(sys), unifiedllm.UserMessage(task)},
//	    ResponseFormat: &unifiedllm.ResponseFormat{Type: "json_schema", JSONSchema: schema},
//	})
//	resp, err := unifiedllm.Collect(ctx, events, func(delta string) { fmt.Print(delta) })
//
// # Errors
//
// Backend failures are translated into the typed hierarchy in errors.go.
// ErrorKind returns the label used in events and persisted call records.
// Adapters never retry; callers opt in with Retry.
package unifiedllm
