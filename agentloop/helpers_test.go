package agentloop

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martinemde/repoagent/persistence"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/unifiedllm"
)

const testRepo = "repo-1"

// reply is one scripted model turn: text streamed in chunks, or an error.
// args, when set, arrives as the arguments of a response tool call.
type reply struct {
	text string
	args string
	err  error
}

func (r reply) response() *unifiedllm.Response {
	resp := textResponse(r.text)
	if r.args != "" {
		resp.Message.Content = append(resp.Message.Content,
			unifiedllm.ToolCallPart("toolu_1", unifiedllm.ResponseToolName, []byte(r.args)))
		resp.FinishReason.Reason = "tool_calls"
	}
	return resp
}

// scriptedAdapter plays replies in order and repeats the last one once the
// script runs out.
type scriptedAdapter struct {
	replies []reply
	// onCall runs before a reply is produced; n counts from 1.
	onCall func(ctx context.Context, n int) error

	mu       sync.Mutex
	requests []unifiedllm.Request
}

func (a *scriptedAdapter) Name() string { return unifiedllm.ProviderAnthropic }

func (a *scriptedAdapter) next(ctx context.Context, req unifiedllm.Request) (reply, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	n := len(a.requests)
	var r reply
	if len(a.replies) > 0 {
		idx := n - 1
		if idx >= len(a.replies) {
			idx = len(a.replies) - 1
		}
		r = a.replies[idx]
	}
	a.mu.Unlock()

	if a.onCall != nil {
		if err := a.onCall(ctx, n); err != nil {
			return reply{}, err
		}
	}
	return r, r.err
}

func (a *scriptedAdapter) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	r, err := a.next(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.response(), nil
}

func (a *scriptedAdapter) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	r, err := a.next(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := chunk(r.text, 16)
	ch := make(chan unifiedllm.StreamEvent, len(chunks)+3)
	ch <- unifiedllm.StreamEvent{Type: unifiedllm.StreamStart}
	for _, c := range chunks {
		ch <- unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: c}
	}
	resp := r.response()
	ch <- unifiedllm.StreamEvent{
		Type:         unifiedllm.StreamFinish,
		FinishReason: &resp.FinishReason,
		Usage:        &resp.Usage,
		Response:     resp,
	}
	close(ch)
	return ch, nil
}

func (a *scriptedAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *scriptedAdapter) request(i int) unifiedllm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[i]
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		ID:           "resp",
		Provider:     unifiedllm.ProviderAnthropic,
		Message:      unifiedllm.AssistantMessage(text),
		FinishReason: unifiedllm.FinishReason{Reason: "stop"},
		Usage:        unifiedllm.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	}
}

func chunk(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

type fixture struct {
	adapter *scriptedAdapter
	repo    *repostore.MemoryStore
	store   *persistence.MemoryStore
	deps    Deps
	cfg     LoopConfig
}

func newFixture(t *testing.T, replies ...reply) *fixture {
	t.Helper()
	adapter := &scriptedAdapter{replies: replies}
	repo := repostore.NewMemoryStore()
	_, err := repo.PutFile(context.Background(), testRepo, "README.md", "# demo\n")
	require.NoError(t, err)
	_, err = repo.PutFile(context.Background(), testRepo, "src/main.go", "package main\n\nfunc main() {}\n")
	require.NoError(t, err)

	store := persistence.NewMemoryStore()
	cfg := DefaultLoopConfig()
	cfg.CountTokens = EstimateTokens
	return &fixture{
		adapter: adapter,
		repo:    repo,
		store:   store,
		deps: Deps{
			LLM:          unifiedllm.NewClient(unifiedllm.WithProvider(unifiedllm.ProviderAnthropic, adapter)),
			Repo:         repo,
			Store:        store,
			DefaultModel: "claude-sonnet-4-5",
		},
		cfg: cfg,
	}
}

func (f *fixture) task(description string) TaskRequest {
	return TaskRequest{RepoID: testRepo, TaskDescription: description}
}

func (f *fixture) newSession(t *testing.T, task TaskRequest) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), f.deps, task, f.cfg)
	require.NoError(t, err)
	return s
}

// run executes the session to completion and returns the final record and
// every emitted event.
func (f *fixture) run(t *testing.T, s *Session) (persistence.Session, []SessionEvent) {
	t.Helper()
	rec, err := s.Run(context.Background())
	require.NoError(t, err)
	var events []SessionEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return rec, events
}

func eventsOfKind(events []SessionEvent, kind EventKind) []SessionEvent {
	var out []SessionEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func userText(req unifiedllm.Request) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == unifiedllm.RoleUser {
			parts = append(parts, m.TextContent())
		}
	}
	return strings.Join(parts, "\n")
}

func systemText(req unifiedllm.Request) string {
	system, _ := req.SplitSystem()
	return system
}
