package unifiedllm

import (
	"strings"
)

// Convention identifies how a backend is asked for structured output.
type Convention string

const (
	// ConventionJSONMode asks for JSON output directly, with the system
	// instruction carried separately from the turn history.
	ConventionJSONMode Convention = "json_mode"
	// ConventionToolSchema forces a single tool invocation whose arguments
	// conform to the response schema.
	ConventionToolSchema Convention = "tool_schema"
	// ConventionStructuredOutput constrains free-text generation with a
	// response_format schema.
	ConventionStructuredOutput Convention = "structured_output"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog.
var Models = []ModelInfo{
	// Anthropic
	{ID: "claude-opus-4-6", Provider: ProviderAnthropic, DisplayName: "Claude Opus 4.6", ContextWindow: 200000, MaxOutput: 32768, Aliases: []string{"opus", "claude-opus"}},
	{ID: "claude-sonnet-4-5", Provider: ProviderAnthropic, DisplayName: "Claude Sonnet 4.5", ContextWindow: 200000, MaxOutput: 16384, Aliases: []string{"sonnet", "claude-sonnet"}},

	// OpenAI
	{ID: "gpt-5.2", Provider: ProviderOpenAI, DisplayName: "GPT-5.2", ContextWindow: 1047576, MaxOutput: 32768, Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: ProviderOpenAI, DisplayName: "GPT-5.2 Mini", ContextWindow: 1047576, MaxOutput: 16384, Aliases: []string{"gpt5-mini"}},
	{ID: "gpt-4o", Provider: ProviderOpenAI, DisplayName: "GPT-4o", ContextWindow: 128000, MaxOutput: 16384},

	// Gemini
	{ID: "gemini-3-pro-preview", Provider: ProviderGemini, DisplayName: "Gemini 3 Pro (Preview)", ContextWindow: 1048576, MaxOutput: 65536, Aliases: []string{"gemini-pro", "gemini-3-pro"}},
	{ID: "gemini-2.5-flash", Provider: ProviderGemini, DisplayName: "Gemini 2.5 Flash", ContextWindow: 1048576, MaxOutput: 65536, Aliases: []string{"gemini-flash"}},
}

// DefaultContextWindow is assumed for models missing from the catalog.
const DefaultContextWindow = 128000

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// Route is the resolved backend for a model name.
type Route struct {
	Provider      string
	Convention    Convention
	Model         string
	ContextWindow int
}

var prefixRoutes = []struct {
	prefix     string
	provider   string
	convention Convention
}{
	{"claude-", ProviderAnthropic, ConventionToolSchema},
	{"gpt-", ProviderOpenAI, ConventionStructuredOutput},
	{"chatgpt-", ProviderOpenAI, ConventionStructuredOutput},
	{"o1", ProviderOpenAI, ConventionStructuredOutput},
	{"o3", ProviderOpenAI, ConventionStructuredOutput},
	{"o4", ProviderOpenAI, ConventionStructuredOutput},
	{"gemini-", ProviderGemini, ConventionJSONMode},
}

// ResolveModel selects provider and convention from the model name prefix.
// Aliases from the catalog are expanded first. A "provider/model" name routes
// to that provider through the gollm fallback adapter.
func ResolveModel(model string) (Route, error) {
	name := strings.TrimSpace(model)
	if name == "" {
		return Route{}, NewConfigurationError("no model configured")
	}
	if info := GetModelInfo(name); info != nil {
		name = info.ID
	}

	if provider, id, ok := strings.Cut(name, "/"); ok {
		if provider == "" || id == "" {
			return Route{}, NewConfigurationError("invalid model name %q", model)
		}
		return Route{Provider: provider, Convention: ConventionJSONMode, Model: id, ContextWindow: contextWindow(id)}, nil
	}

	lower := strings.ToLower(name)
	for _, r := range prefixRoutes {
		if strings.HasPrefix(lower, r.prefix) {
			return Route{Provider: r.provider, Convention: r.convention, Model: name, ContextWindow: contextWindow(name)}, nil
		}
	}
	return Route{}, NewConfigurationError("unsupported model %q: no backend handles this prefix", model)
}

func contextWindow(model string) int {
	if info := GetModelInfo(model); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return DefaultContextWindow
}
