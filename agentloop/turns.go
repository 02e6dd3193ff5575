package agentloop

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/martinemde/repoagent/operation"
	"github.com/martinemde/repoagent/response"
	"github.com/martinemde/repoagent/unifiedllm"
)

// Turn is the summarized record of one iteration kept in long-term
// history. Full operation output never lands here.
type Turn struct {
	Iteration  int       `json:"iteration"`
	Timestamp  time.Time `json:"timestamp"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Status     string    `json:"status"`
	Summaries  []string  `json:"summaries,omitempty"`
	Dropped    []string  `json:"dropped,omitempty"`
	ParseError string    `json:"parse_error,omitempty"`
	Signature  string    `json:"signature,omitempty"`
}

// maxReasoningInHistory bounds the reasoning kept per turn.
const maxReasoningInHistory = 600

// NewTurn summarizes an iteration.
func NewTurn(iteration int, resp response.AgentResponse, plan operation.Plan, results []operation.Result) Turn {
	t := Turn{
		Iteration: iteration,
		Timestamp: time.Now(),
		Reasoning: clip(strings.TrimSpace(resp.Reasoning), maxReasoningInHistory),
		Status:    resp.Status,
		Signature: batchSignature(resp.Operations),
	}
	if resp.Status == response.StatusParseError {
		t.ParseError = resp.Error
	}
	for _, r := range results {
		t.Summaries = append(t.Summaries, r.Summary())
	}
	for _, d := range plan.Dropped {
		t.Dropped = append(t.Dropped, fmt.Sprintf("%s: %s", d.Operation.Type, d.Reason))
	}
	return t
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + " [...]"
}

// Render formats the turn for the chat-history digest.
func (t Turn) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Iteration %d (%s)\n", t.Iteration, t.Status)
	if t.ParseError != "" {
		fmt.Fprintf(&sb, "Your response could not be parsed: %s\n", t.ParseError)
	}
	if t.Reasoning != "" {
		fmt.Fprintf(&sb, "Reasoning: %s\n", t.Reasoning)
	}
	for _, s := range t.Summaries {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	for _, d := range t.Dropped {
		fmt.Fprintf(&sb, "- dropped %s\n", d)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// HistoryDigest renders turns oldest first.
func HistoryDigest(turns []Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Render()
	}
	return strings.Join(parts, "\n\n")
}

// ephemeralContext renders the full, truncated results of the previous
// iteration. It is sent once, in the next request, and never stored.
func ephemeralContext(iteration int, results []operation.Result, plan operation.Plan) string {
	if len(results) == 0 && len(plan.Dropped) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Results of the operations you requested in iteration %d:\n", iteration)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, r.Summary())
		if r.Output != "" {
			sb.WriteString(operation.TruncateResult(r.Output, r.Type))
			sb.WriteString("\n")
		}
	}
	for _, d := range plan.Dropped {
		fmt.Fprintf(&sb, "\n[dropped] %s: %s\n", d.Operation.Type, d.Reason)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// buildMessages converts the assembled prompt and this iteration's turn
// message into LLM messages.
func buildMessages(systemPrompt, turnMessage string) []unifiedllm.Message {
	return []unifiedllm.Message{
		unifiedllm.SystemMessage(systemPrompt),
		unifiedllm.UserMessage(turnMessage),
	}
}
