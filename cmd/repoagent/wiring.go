package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/martinemde/repoagent/agentloop"
	"github.com/martinemde/repoagent/config"
	"github.com/martinemde/repoagent/persistence"
	"github.com/martinemde/repoagent/prompt"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/unifiedllm"
)

// newLLMClient registers an adapter for every provider with credentials.
// Other "provider/model" names go through gollm when a key (or no key, for
// local providers) is available.
func newLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	p := cfg.Providers
	opts := []unifiedllm.ClientOption{
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
		unifiedllm.WithStreamMiddleware(unifiedllm.StreamLoggingMiddleware(logger)),
	}

	if p.AnthropicAPIKey != "" {
		a, err := unifiedllm.NewAnthropicAdapter(p.AnthropicAPIKey, p.AnthropicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("anthropic adapter: %w", err)
		}
		opts = append(opts, unifiedllm.WithProvider(unifiedllm.ProviderAnthropic, a))
	}
	if p.OpenAIAPIKey != "" {
		a, err := unifiedllm.NewOpenAIAdapter(p.OpenAIAPIKey, p.OpenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		opts = append(opts, unifiedllm.WithProvider(unifiedllm.ProviderOpenAI, a))
	}
	if p.GeminiAPIKey != "" {
		a, err := unifiedllm.NewGeminiAdapter(ctx, p.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		opts = append(opts, unifiedllm.WithProvider(unifiedllm.ProviderGemini, a))
	}

	opts = append(opts, unifiedllm.WithFallback(func(provider string) (unifiedllm.ProviderAdapter, error) {
		switch provider {
		case unifiedllm.ProviderAnthropic, unifiedllm.ProviderOpenAI, unifiedllm.ProviderGemini:
			return nil, fmt.Errorf("no API key configured for %s", provider)
		}
		key := p.APIKey(provider)
		if key == "" && provider != "ollama" {
			return nil, fmt.Errorf("no API key configured for %s", provider)
		}
		a, err := unifiedllm.NewGollmAdapter(provider, key)
		if err != nil {
			return nil, err
		}
		return a, nil
	}))
	return unifiedllm.NewClient(opts...), nil
}

// openPersistence returns the configured session store.
func openPersistence(cfg *config.Config) (persistence.Store, error) {
	if cfg.Database.Dialect == "memory" {
		return persistence.NewMemoryStore(), nil
	}
	return persistence.OpenSQLStore(cfg.Database.Dialect, cfg.Database.DSN)
}

type repository interface {
	repostore.Store
	repostore.Seeder
}

// openRepository returns the configured repository store and a closer.
func openRepository(cfg *config.Config) (repository, func() error, error) {
	if cfg.Repository.Backend == "sqlite" {
		s, err := repostore.NewSQLiteStore(cfg.Repository.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return repostore.NewMemoryStore(), func() error { return nil }, nil
}

// loopConfig maps the agent settings onto the loop.
func loopConfig(cfg *config.Config) agentloop.LoopConfig {
	lc := agentloop.DefaultLoopConfig()
	lc.HardCap = cfg.Agent.HardCap
	lc.RateLimitRetries = cfg.Agent.RateLimitRetries
	lc.LLMTimeout = cfg.Agent.LLMTimeout
	lc.DisableStreaming = cfg.Agent.DisableStreaming
	lc.BlackboardLimit = cfg.Agent.BlackboardLimit
	lc.LoopWindow = cfg.Agent.LoopWindow
	lc.ContextBudget = cfg.Agent.ContextBudget
	return lc
}

// baseSections returns the default prompt, with any configured overrides
// merged in by id.
func baseSections(cfg *config.Config) ([]prompt.Section, error) {
	sections := prompt.DefaultSections()
	if cfg.Agent.PromptSectionsFile == "" {
		return sections, nil
	}
	custom, err := prompt.LoadSections(cfg.Agent.PromptSectionsFile)
	if err != nil {
		return nil, err
	}
	return prompt.MergeSections(sections, custom), nil
}
