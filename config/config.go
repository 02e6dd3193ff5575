// Package config loads the agent configuration from a YAML file, .env
// files and the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultLLMTimeout bounds one LLM call when no timeout is configured.
const DefaultLLMTimeout = 5 * time.Minute

// DefaultEventRetention is how long a finished session's events stay
// replayable in memory.
const DefaultEventRetention = 10 * time.Minute

// Config is the full agent configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Repository RepositoryConfig `yaml:"repository"`
	Agent      AgentConfig      `yaml:"agent"`
	Providers  ProvidersConfig  `yaml:"providers"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"REPOAGENT_ADDR"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"REPOAGENT_LOG_LEVEL"`
	Format string `yaml:"format" env:"REPOAGENT_LOG_FORMAT"`
}

// DatabaseConfig selects the session persistence backend. Dialect "memory"
// keeps everything in process.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect" env:"REPOAGENT_DB_DIALECT"`
	DSN     string `yaml:"dsn" env:"REPOAGENT_DB_DSN"`
}

// RepositoryConfig selects the repository store backend.
type RepositoryConfig struct {
	Backend string `yaml:"backend" env:"REPOAGENT_REPO_BACKEND"`
	Path    string `yaml:"path" env:"REPOAGENT_REPO_PATH"`
}

type AgentConfig struct {
	DefaultModel       string        `yaml:"default_model" env:"REPOAGENT_MODEL"`
	HardCap            int           `yaml:"hard_cap" env:"REPOAGENT_HARD_CAP"`
	RateLimitRetries   int           `yaml:"rate_limit_retries" env:"REPOAGENT_RATE_LIMIT_RETRIES"`
	LLMTimeout         time.Duration `yaml:"llm_timeout" env:"REPOAGENT_LLM_TIMEOUT"`
	DisableStreaming   bool          `yaml:"disable_streaming" env:"REPOAGENT_DISABLE_STREAMING"`
	EventRetention     time.Duration `yaml:"event_retention" env:"REPOAGENT_EVENT_RETENTION"`
	BlackboardLimit    int           `yaml:"blackboard_limit" env:"REPOAGENT_BLACKBOARD_LIMIT"`
	LoopWindow         int           `yaml:"loop_window" env:"REPOAGENT_LOOP_WINDOW"`
	ContextBudget      float64       `yaml:"context_budget" env:"REPOAGENT_CONTEXT_BUDGET"`
	PromptSectionsFile string        `yaml:"prompt_sections_file" env:"REPOAGENT_PROMPT_SECTIONS"`
}

type ProvidersConfig struct {
	AnthropicAPIKey  string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL"`
	OpenAIAPIKey     string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	GeminiAPIKey     string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	// Keys for gollm-routed providers, keyed by provider name.
	Extra map[string]string `yaml:"extra"`
}

// Load reads path (optional), applies .env files, expands ${VAR} references,
// applies environment overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	var dotenv []string
	if path != "" {
		dotenv = append(dotenv, filepath.Join(filepath.Dir(path), ".env"))
	}
	if err := LoadDotEnv(dotenv...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given files and ./.env when present. Variables
// already set in the environment are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range append(paths, ".env") {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Database.Dialect == "" {
		c.Database.Dialect = "memory"
	}
	if c.Database.Dialect == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "repoagent.db"
	}
	if c.Repository.Backend == "" {
		c.Repository.Backend = "memory"
	}
	if c.Repository.Backend == "sqlite" && c.Repository.Path == "" {
		c.Repository.Path = "repository.db"
	}
	if c.Agent.DefaultModel == "" {
		c.Agent.DefaultModel = "claude-sonnet-4-5"
	}
	if c.Agent.HardCap <= 0 {
		c.Agent.HardCap = 50
	}
	if c.Agent.LLMTimeout <= 0 {
		c.Agent.LLMTimeout = DefaultLLMTimeout
	}
	if c.Agent.EventRetention <= 0 {
		c.Agent.EventRetention = DefaultEventRetention
	}
	if c.Agent.BlackboardLimit <= 0 {
		c.Agent.BlackboardLimit = 10
	}
	if c.Agent.LoopWindow <= 0 {
		c.Agent.LoopWindow = 3
	}
	if c.Agent.ContextBudget <= 0 {
		c.Agent.ContextBudget = 0.8
	}
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Dialect) {
	case "memory", "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("database.dialect: unsupported %q", c.Database.Dialect)
	}
	if c.Database.Dialect != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for dialect %q", c.Database.Dialect)
	}
	switch c.Repository.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("repository.backend: unsupported %q", c.Repository.Backend)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported %q", c.Logging.Format)
	}
	if c.Agent.HardCap > 50 {
		return fmt.Errorf("agent.hard_cap: %d exceeds the maximum of 50", c.Agent.HardCap)
	}
	if c.Agent.RateLimitRetries < 0 {
		return fmt.Errorf("agent.rate_limit_retries: must not be negative")
	}
	if c.Agent.ContextBudget > 1 {
		return fmt.Errorf("agent.context_budget: %.2f is above 1", c.Agent.ContextBudget)
	}
	return nil
}

// APIKey returns the configured key for provider.
func (p ProvidersConfig) APIKey(provider string) string {
	switch provider {
	case "anthropic":
		return p.AnthropicAPIKey
	case "openai":
		return p.OpenAIAPIKey
	case "gemini":
		return p.GeminiAPIKey
	}
	if k := p.Extra[provider]; k != "" {
		return k
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}
