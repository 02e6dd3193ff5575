package agentloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/repoagent/persistence"
	"github.com/martinemde/repoagent/prompt"
	"github.com/martinemde/repoagent/unifiedllm"
)

// HardCap bounds every session regardless of configuration.
const HardCap = 50

var modeDefaults = map[string]int{
	persistence.ModeSingleTask:            10,
	persistence.ModeIterativeLoop:         25,
	persistence.ModeContinuousImprovement: 50,
}

// TaskRequest is a task submission.
type TaskRequest struct {
	RepoID          string   `json:"repo_id"`
	TaskDescription string   `json:"task_description"`
	AttachedFiles   []string `json:"attached_files,omitempty"`
	ProjectContext  string   `json:"project_context,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	AutoCommit      bool     `json:"auto_commit"`
	MaxIterations   int      `json:"max_iterations,omitempty"`
	Model           string   `json:"model,omitempty"`

	// PromptSections replace default sections with the same id.
	PromptSections         []prompt.Section  `json:"prompt_sections,omitempty"`
	CustomToolDescriptions map[string]string `json:"custom_tool_descriptions,omitempty"`
	DisabledOperations     []string          `json:"disabled_operations,omitempty"`
	ProjectExploration     bool              `json:"project_exploration,omitempty"`
}

// normalize applies defaults and validates the request. Errors are
// configuration errors: nothing has been created yet.
func (t *TaskRequest) normalize(defaultModel string) error {
	t.TaskDescription = strings.TrimSpace(t.TaskDescription)
	if t.TaskDescription == "" {
		return unifiedllm.NewConfigurationError("task description is required")
	}
	if t.RepoID == "" {
		return unifiedllm.NewConfigurationError("repository id is required")
	}
	if t.Mode == "" {
		t.Mode = persistence.ModeSingleTask
	}
	def, ok := modeDefaults[t.Mode]
	if !ok {
		return unifiedllm.NewConfigurationError("unsupported mode %q", t.Mode)
	}
	if t.MaxIterations <= 0 {
		t.MaxIterations = def
	}
	if t.MaxIterations > HardCap {
		t.MaxIterations = HardCap
	}
	if t.Model == "" {
		t.Model = defaultModel
	}
	if t.Model == "" {
		return unifiedllm.NewConfigurationError("model is required")
	}
	if len(t.PromptSections) > 0 {
		if err := prompt.ValidateSections(t.PromptSections); err != nil {
			return unifiedllm.NewConfigurationError("prompt sections: %v", err)
		}
	}
	return nil
}

// LoopConfig tunes the loop for a deployment.
type LoopConfig struct {
	// HardCap lowers the iteration bound further; it can never raise it
	// above the package HardCap.
	HardCap int
	// RateLimitRetries enables retry with backoff for rate-limited or
	// server-failed LLM calls. Zero fails the iteration immediately.
	RateLimitRetries int
	// RetryBaseDelay overrides the first backoff delay.
	RetryBaseDelay time.Duration
	// LLMTimeout bounds each LLM call attempt. Zero leaves calls bounded
	// only by the run context.
	LLMTimeout time.Duration
	// DisableStreaming makes blocking calls; no llm_streaming events are
	// emitted.
	DisableStreaming bool
	BlackboardLimit  int
	// LoopWindow is how many identical iterations count as a loop.
	LoopWindow int
	// ContextBudget is the share of the model context window the prompt
	// may use.
	ContextBudget float64
	// CountTokens overrides token counting; nil uses tiktoken.
	CountTokens TokenCounter
	EventBuffer int
}

// DefaultLoopConfig returns the standard loop settings.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		HardCap:         HardCap,
		BlackboardLimit: prompt.DefaultBlackboardLimit,
		LoopWindow:      3,
		ContextBudget:   0.8,
		EventBuffer:     1024,
	}
}

func (c LoopConfig) withDefaults() LoopConfig {
	d := DefaultLoopConfig()
	if c.HardCap <= 0 || c.HardCap > HardCap {
		c.HardCap = d.HardCap
	}
	if c.BlackboardLimit <= 0 {
		c.BlackboardLimit = d.BlackboardLimit
	}
	if c.LoopWindow <= 0 {
		c.LoopWindow = d.LoopWindow
	}
	if c.ContextBudget <= 0 || c.ContextBudget > 1 {
		c.ContextBudget = d.ContextBudget
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

func (c LoopConfig) retryPolicy() unifiedllm.RetryPolicy {
	if c.RateLimitRetries <= 0 {
		return unifiedllm.NoRetry()
	}
	p := unifiedllm.DefaultRetryPolicy()
	p.MaxRetries = c.RateLimitRetries
	if c.RetryBaseDelay > 0 {
		p.BaseDelay = c.RetryBaseDelay.Seconds()
	}
	return p
}

func effectiveMax(requested, hardCap int) int {
	if requested > hardCap {
		return hardCap
	}
	return requested
}

func modeLabel(mode string) string {
	switch mode {
	case persistence.ModeIterativeLoop:
		return "iterative loop: keep working through the task over several iterations, verifying as you go"
	case persistence.ModeContinuousImprovement:
		return "continuous improvement: after the task is done, keep finding and making worthwhile improvements"
	default:
		return "single task: complete the task, then set status to completed"
	}
}

func attachedList(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func sessionError(err error) string {
	kind := unifiedllm.ErrorKind(err)
	if kind == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", kind, err)
}
