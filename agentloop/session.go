package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/martinemde/repoagent/catalog"
	"github.com/martinemde/repoagent/observability"
	"github.com/martinemde/repoagent/operation"
	"github.com/martinemde/repoagent/persistence"
	"github.com/martinemde/repoagent/prompt"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/response"
	"github.com/martinemde/repoagent/unifiedllm"
)

// Deps are the collaborators a session runs against.
type Deps struct {
	LLM     *unifiedllm.Client
	Repo    repostore.Store
	Store   persistence.Store
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Sections is the base prompt; nil uses prompt.DefaultSections.
	Sections     []prompt.Section
	DefaultModel string
}

// Session drives one task from creation to a terminal status.
type Session struct {
	id      string
	deps    Deps
	cfg     LoopConfig
	task    TaskRequest
	route   unifiedllm.Route
	record  persistence.Session
	emitter *EventEmitter
	logger  *slog.Logger
	count   TokenCounter

	catalog     *catalog.Registry
	planner     *operation.Planner
	executor    *operation.Executor
	sections    []prompt.Section
	schema      map[string]any
	schemaText  string
	catalogText string
	projectCtx  string

	// Owned by the run goroutine.
	history     []Turn
	signatures  []string
	nextContext string
	nextNote    string
	usage       unifiedllm.Usage

	abort     atomic.Bool
	finalized sync.Once
	mu        sync.Mutex
}

// NewSession validates task, resolves its model and records the session.
// Configuration problems are returned before anything is persisted.
func NewSession(ctx context.Context, deps Deps, task TaskRequest, cfg LoopConfig) (*Session, error) {
	if deps.LLM == nil || deps.Repo == nil || deps.Store == nil {
		return nil, fmt.Errorf("agentloop: LLM client, repository store and persistence store are required")
	}
	if err := task.normalize(deps.DefaultModel); err != nil {
		return nil, err
	}
	_, route, err := deps.LLM.Resolve(task.Model)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	cat := catalog.New(catalog.Options{
		ProjectExploration: task.ProjectExploration,
		Disabled:           task.DisabledOperations,
		Descriptions:       task.CustomToolDescriptions,
	})
	defs := cat.Definitions()
	schema, err := catalog.ResponseSchema(defs)
	if err != nil {
		return nil, fmt.Errorf("agentloop: response schema: %w", err)
	}

	base := deps.Sections
	if base == nil {
		base = prompt.DefaultSections()
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	count := cfg.CountTokens
	if count == nil {
		count = NewTiktokenCounter(route.Model)
	}

	s := &Session{
		deps:        deps,
		cfg:         cfg,
		task:        task,
		route:       route,
		count:       count,
		catalog:     cat,
		sections:    prompt.MergeSections(base, task.PromptSections),
		schema:      schema,
		schemaText:  catalog.SchemaText(defs),
		catalogText: catalog.Text(defs),
	}

	s.record = persistence.Session{
		RepoID:        task.RepoID,
		Task:          task.TaskDescription,
		Mode:          task.Mode,
		Model:         task.Model,
		Status:        persistence.StatusCreated,
		AutoCommit:    task.AutoCommit,
		MaxIterations: effectiveMax(task.MaxIterations, cfg.HardCap),
	}
	if err := deps.Store.CreateSession(ctx, &s.record); err != nil {
		return nil, fmt.Errorf("agentloop: create session: %w", err)
	}
	s.id = s.record.ID
	s.logger = logger.With("session_id", s.id)
	s.emitter = NewEventEmitter(s.id, cfg.EventBuffer)
	s.executor = operation.NewExecutor(deps.Repo, task.RepoID, cat, operation.WithLogger(s.logger))
	s.planner = operation.NewPlanner(cat, s.logger,
		operation.WithPathResolver(s.executor.CanonicalPath),
		operation.WithLineCounter(s.executor.LineCount))
	s.projectCtx = s.projectContext(ctx)

	s.persistMessage(ctx, persistence.RoleUser, task.TaskDescription, 0)
	s.emitter.Emit(EventSessionCreated, 0, map[string]interface{}{
		"task":           task.TaskDescription,
		"mode":           task.Mode,
		"model":          task.Model,
		"provider":       route.Provider,
		"max_iterations": s.record.MaxIterations,
	})
	s.logger.Info("session created", "repo_id", task.RepoID, "model", task.Model,
		"provider", route.Provider, "mode", task.Mode, "max_iterations", s.record.MaxIterations)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the event channel. It is closed after session_end.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// Files exposes the session file registry.
func (s *Session) Files() *operation.FileRegistry { return s.executor.Files() }

// Abort asks the loop to stop before its next iteration. An in-flight LLM
// call or operation is not interrupted.
func (s *Session) Abort() { s.abort.Store(true) }

// Record returns a snapshot of the persisted session.
func (s *Session) Record() persistence.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// History returns the summarized iteration records.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

func (s *Session) projectContext(ctx context.Context) string {
	parts := []string{}
	if pc := strings.TrimSpace(s.task.ProjectContext); pc != "" {
		parts = append(parts, pc)
	}
	parts = append(parts, prompt.EnvironmentContext(s.task.RepoID, s.task.Model))
	digest, err := prompt.ProjectDigest(ctx, s.deps.Repo, s.task.RepoID, s.route.Provider)
	if err != nil {
		s.logger.Warn("project digest unavailable", "error", err)
	} else if digest != "" {
		parts = append(parts, digest)
	}
	return strings.Join(parts, "\n\n")
}

// Run executes iterations until a terminal status and returns the final
// session record. Loop outcomes, failures included, are reported through
// the record; the error is reserved for a record that cannot be read.
func (s *Session) Run(ctx context.Context) (persistence.Session, error) {
	ctx = observability.WithLogger(ctx, s.logger)
	s.deps.Metrics.SessionStarted()

	s.mu.Lock()
	s.record.Status = persistence.StatusRunning
	s.mu.Unlock()
	s.saveRecord(ctx)

	for iter := 1; iter <= s.record.MaxIterations; iter++ {
		if s.abortRequested(ctx) {
			return s.finalize(ctx, persistence.StatusAborted, "aborted before iteration "+fmt.Sprint(iter))
		}
		resp, err := s.iterate(ctx, iter)
		if err != nil {
			if s.abortRequested(ctx) {
				return s.finalize(ctx, persistence.StatusAborted, sessionError(err))
			}
			return s.finalize(ctx, persistence.StatusFailed, sessionError(err))
		}
		switch resp.Status {
		case response.StatusCompleted:
			return s.finalize(ctx, persistence.StatusCompleted, "")
		case response.StatusRequiresCommit, response.StatusPendingCommit:
			return s.finalize(ctx, persistence.StatusPendingCommit, "")
		}
	}

	s.logger.Info("iteration budget exhausted", "iterations", s.record.MaxIterations)
	staged, err := s.deps.Repo.ListStaged(context.WithoutCancel(ctx), s.task.RepoID)
	if err != nil {
		s.logger.Warn("list staged changes failed", "error", err)
	}
	if len(staged) > 0 {
		return s.finalize(ctx, persistence.StatusPendingCommit, "")
	}
	return s.finalize(ctx, persistence.StatusCompleted, "")
}

// abortRequested reports an abort flag or a cancelled run context. An
// expired deadline is a timeout, not an abort.
func (s *Session) abortRequested(ctx context.Context) bool {
	if s.abort.Load() || errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	rec, err := s.deps.Store.GetSession(ctx, s.id)
	if err == nil && rec.AbortRequested {
		s.abort.Store(true)
		return true
	}
	return false
}

// finalize persists the terminal status exactly once and closes the event
// stream.
func (s *Session) finalize(ctx context.Context, status, errMsg string) (persistence.Session, error) {
	ctx = context.WithoutCancel(ctx)
	s.finalized.Do(func() {
		now := time.Now().UTC()
		s.mu.Lock()
		s.record.Status = status
		s.record.Error = errMsg
		s.record.CompletedAt = &now
		if status == persistence.StatusAborted {
			s.record.AbortRequested = true
		}
		iterations := s.record.CurrentIteration
		s.mu.Unlock()
		s.saveRecord(ctx)

		end := fmt.Sprintf("Session ended with status %s after %d iterations.", status, iterations)
		if errMsg != "" {
			end += " " + errMsg
		}
		s.persistMessage(ctx, persistence.RoleSystem, end, iterations)
		s.deps.Metrics.SessionFinished(status)

		data := map[string]interface{}{
			"status":        status,
			"iterations":    iterations,
			"input_tokens":  s.usage.InputTokens,
			"output_tokens": s.usage.OutputTokens,
		}
		if errMsg != "" {
			data["error"] = errMsg
		}
		s.emitter.Emit(EventSessionEnd, iterations, data)
		s.emitter.Close()

		level := slog.LevelInfo
		if status == persistence.StatusFailed {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "session finished", "status", status, "iterations", iterations, "error", errMsg)
	})
	rec, err := s.deps.Store.GetSession(ctx, s.id)
	if err != nil {
		return s.Record(), err
	}
	return *rec, nil
}

func (s *Session) saveRecord(ctx context.Context) {
	s.mu.Lock()
	rec := s.record
	s.mu.Unlock()
	// Keep an abort requested through the store.
	if stored, err := s.deps.Store.GetSession(ctx, s.id); err == nil && stored.AbortRequested {
		rec.AbortRequested = true
	}
	if err := s.deps.Store.UpdateSession(ctx, &rec); err != nil {
		s.logger.Warn("update session failed", "error", err)
	}
}

func (s *Session) persistMessage(ctx context.Context, role, content string, iteration int) {
	msg := &persistence.Message{SessionID: s.id, Role: role, Content: content, Iteration: iteration}
	if err := s.deps.Store.InsertMessage(ctx, msg); err != nil {
		s.logger.Warn("insert message failed", "role", role, "error", err)
	}
}

// iterate runs one full pass: prompt, LLM call, parse, plan, execute,
// record. A returned error is a provider failure that ends the session.
func (s *Session) iterate(ctx context.Context, iter int) (response.AgentResponse, error) {
	s.mu.Lock()
	s.record.CurrentIteration = iter
	s.mu.Unlock()
	s.saveRecord(ctx)
	s.deps.Metrics.Iteration()
	log := s.logger.With("iteration", iter)

	turnMsg := s.turnMessage(iter)
	systemPrompt := s.buildPrompt(ctx, iter, turnMsg)
	s.nextNote = ""

	req := unifiedllm.Request{
		Model:    s.task.Model,
		Messages: buildMessages(systemPrompt, turnMsg),
		ResponseFormat: &unifiedllm.ResponseFormat{
			Type:        "json_schema",
			Name:        "submit_response",
			Description: "Submit your reasoning, the operations to execute, a blackboard note and the task status.",
			JSONSchema:  s.schema,
		},
	}

	raw, llmResp, elapsed, err := s.invoke(ctx, iter, req)
	call := &persistence.LLMCall{
		SessionID:  s.id,
		Iteration:  iter,
		Provider:   s.route.Provider,
		Model:      s.task.Model,
		Prompt:     systemPrompt + "\n\n" + turnMsg,
		RawOutput:  raw,
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		kind := unifiedllm.ErrorKind(err)
		call.Error, call.ErrorKind = err.Error(), kind
		s.insertCall(ctx, call)
		s.deps.Metrics.LLMCall(s.route.Provider, false, elapsed, 0, 0)
		log.Warn("llm call failed", "provider", s.route.Provider, "error_kind", kind, "error", err, "raw_output", raw)
		s.emitter.Emit(EventError, iter, map[string]interface{}{"error": err.Error(), "error_kind": kind})
		s.persistMessage(ctx, persistence.RoleSystem, fmt.Sprintf("Iteration %d failed: %s", iter, sessionError(err)), iter)
		return response.AgentResponse{}, err
	}

	call.InputTokens, call.OutputTokens = llmResp.Usage.InputTokens, llmResp.Usage.OutputTokens
	s.mu.Lock()
	s.usage = s.usage.Add(llmResp.Usage)
	s.mu.Unlock()
	s.deps.Metrics.LLMCall(s.route.Provider, true, elapsed, call.InputTokens, call.OutputTokens)
	s.emitter.Emit(EventLLMComplete, iter, map[string]interface{}{
		"provider":      s.route.Provider,
		"model":         s.task.Model,
		"input_tokens":  call.InputTokens,
		"output_tokens": call.OutputTokens,
		"duration_ms":   call.DurationMS,
	})

	var resp response.AgentResponse
	if args, ok := llmResp.StructuredOutput(); ok {
		resp = response.ParseArguments(args)
	} else {
		resp = response.Parse(raw)
	}
	call.ParseSuccess = resp.Status != response.StatusParseError
	call.ParseStage = resp.Stage
	if !call.ParseSuccess {
		call.Error, call.ErrorKind = resp.Error, "parse"
		s.deps.Metrics.ParseFailure()
		log.Warn("response not parseable", "error", resp.Error, "raw_output", raw)
		s.emitter.Emit(EventError, iter, map[string]interface{}{"error": resp.Error, "error_kind": "parse"})
	}
	s.insertCall(ctx, call)

	agentText := strings.TrimSpace(resp.Reasoning)
	if !call.ParseSuccess {
		agentText = resp.Raw
	}
	if agentText == "" {
		agentText = fmt.Sprintf("(no reasoning; status %s)", resp.Status)
	}
	s.persistMessage(ctx, persistence.RoleAgent, agentText, iter)

	if e := resp.BlackboardEntry; e != nil {
		entry := &persistence.BlackboardEntry{SessionID: s.id, Iteration: iter, EntryType: e.EntryType, Content: e.Content}
		if err := s.deps.Store.InsertBlackboardEntry(ctx, entry); err != nil {
			log.Warn("insert blackboard entry failed", "error", err)
		}
	}

	plan := s.planner.Plan(ctx, resp.Operations)
	results := s.execute(ctx, iter, plan)

	turn := NewTurn(iter, resp, plan, results)
	if len(turn.Summaries) > 0 || len(turn.Dropped) > 0 {
		s.persistMessage(ctx, persistence.RoleSystem, turn.Render(), iter)
	}
	s.mu.Lock()
	s.history = append(s.history, turn)
	s.mu.Unlock()
	s.signatures = append(s.signatures, turn.Signature)
	s.nextContext = ephemeralContext(iter, results, plan)

	if DetectLoop(s.signatures, s.cfg.LoopWindow) {
		s.nextNote = loopWarning(s.cfg.LoopWindow)
		log.Warn("loop detected", "window", s.cfg.LoopWindow)
		s.emitter.Emit(EventLoopDetection, iter, map[string]interface{}{"message": s.nextNote})
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.emitter.Emit(EventIterationComplete, iter, map[string]interface{}{
		"status":     resp.Status,
		"operations": len(results),
		"succeeded":  succeeded,
		"failed":     len(results) - succeeded,
		"dropped":    len(plan.Dropped),
	})
	log.Info("iteration complete", "status", resp.Status, "operations", len(results),
		"failed", len(results)-succeeded, "dropped", len(plan.Dropped), "parse_stage", resp.Stage)
	return resp, nil
}

func (s *Session) insertCall(ctx context.Context, call *persistence.LLMCall) {
	if err := s.deps.Store.InsertLLMCall(ctx, call); err != nil {
		s.logger.Warn("insert llm call failed", "error", err)
	}
}

// invoke makes one LLM call. Streamed deltas are forwarded as llm_streaming
// events. It returns whatever text arrived, even on failure, for the audit
// log; tool call arguments stand in for the text when present.
func (s *Session) invoke(ctx context.Context, iter int, req unifiedllm.Request) (string, *unifiedllm.Response, time.Duration, error) {
	start := time.Now()
	var partial strings.Builder
	policy := s.cfg.retryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		s.logger.Warn("retrying llm call", "iteration", iter, "attempt", attempt, "delay", delay, "error_kind", unifiedllm.ErrorKind(err))
	}
	resp, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*unifiedllm.Response, error) {
		partial.Reset()
		if s.cfg.LLMTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.LLMTimeout)
			defer cancel()
		}
		if s.cfg.DisableStreaming {
			resp, err := s.deps.LLM.Complete(ctx, req)
			return resp, unifiedllm.ContextError(err)
		}
		events, err := s.deps.LLM.Stream(ctx, req)
		if err != nil {
			return nil, unifiedllm.ContextError(err)
		}
		return unifiedllm.Collect(ctx, events, func(delta string) {
			partial.WriteString(delta)
			s.emitter.Emit(EventLLMStreaming, iter, map[string]interface{}{"delta": delta})
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		err = unifiedllm.ContextError(err)
		return partial.String(), nil, elapsed, err
	}
	if args, ok := resp.StructuredOutput(); ok {
		return string(args), resp, elapsed, nil
	}
	return resp.Text(), resp, elapsed, nil
}

// Usage returns the tokens consumed by the session's LLM calls so far.
func (s *Session) Usage() unifiedllm.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// execute runs the planned operations in order. Each failure is isolated to
// its operation.
func (s *Session) execute(ctx context.Context, iter int, plan operation.Plan) []operation.Result {
	results := make([]operation.Result, 0, len(plan.Operations))
	for i, op := range plan.Operations {
		params, _ := json.Marshal(op.Params)
		path := paramPath(op.Params)
		entry := &persistence.OperationLog{
			SessionID: s.id,
			Iteration: iter,
			Seq:       i + 1,
			Type:      op.Type,
			Path:      path,
			Params:    string(params),
			Status:    persistence.OpRunning,
		}
		if err := s.deps.Store.LogOperation(ctx, entry); err != nil {
			s.logger.Warn("log operation failed", "error", err)
		}
		s.emitter.Emit(EventOperationStart, iter, map[string]interface{}{
			"index": i,
			"type":  op.Type,
			"path":  path,
		})

		res := s.executor.ExecutePlanned(ctx, plan, i)
		results = append(results, res)

		status := persistence.OpSuccess
		if !res.Success {
			status = persistence.OpFailed
			s.logger.Warn("operation failed", "iteration", iter, "type", op.Type, "path", path, "error", res.Error)
		}
		if res.Warning != "" {
			s.logger.Warn("operation warning", "iteration", iter, "type", op.Type, "path", res.Path, "warning", res.Warning)
			s.emitter.Emit(EventWarning, iter, map[string]interface{}{"type": op.Type, "path": res.Path, "message": res.Warning})
		}
		if entry.ID != "" {
			if err := s.deps.Store.UpdateOperation(ctx, entry.ID, status, operation.TruncateResult(res.Output, res.Type), res.Error); err != nil {
				s.logger.Warn("update operation failed", "error", err)
			}
		}
		s.deps.Metrics.Operation(op.Type, res.Success, res.Duration)

		data := map[string]interface{}{
			"index":   i,
			"type":    op.Type,
			"path":    res.Path,
			"success": res.Success,
			"summary": res.Summary(),
		}
		if res.Error != "" {
			data["error"] = res.Error
		}
		if res.Warning != "" {
			data["warning"] = res.Warning
		}
		if res.FileID != "" {
			data["file_id"] = res.FileID
		}
		s.emitter.Emit(EventOperationComplete, iter, data)
	}
	return results
}

func paramPath(params map[string]any) string {
	for _, key := range []string{"path", "file_id", "category"} {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// turnMessage is the user turn of iteration iter: the task on the first
// iteration, the previous iteration's full results afterwards.
func (s *Session) turnMessage(iter int) string {
	if iter == 1 {
		return "Begin working on the task. Respond with a single JSON object that matches the response format."
	}
	var sb strings.Builder
	if s.nextContext != "" {
		sb.WriteString(s.nextContext)
		sb.WriteString("\n\n")
	} else {
		fmt.Fprintf(&sb, "You requested no operations in iteration %d.\n\n", iter-1)
	}
	fmt.Fprintf(&sb, "Continue with iteration %d of %d. Respond with a single JSON object that matches the response format.",
		iter, s.record.MaxIterations)
	return sb.String()
}

// buildPrompt assembles the system prompt, shrinking the chat-history
// digest from the oldest end until the prompt fits the context budget.
func (s *Session) buildPrompt(ctx context.Context, iter int, turnMsg string) string {
	pc := prompt.Context{
		Task:               s.task.TaskDescription,
		Mode:               modeLabel(s.task.Mode),
		AutoCommit:         s.task.AutoCommit,
		ProjectExploration: s.task.ProjectExploration,
		Iteration:          iter,
		MaxIterations:      s.record.MaxIterations,
		ToolCatalog:        s.catalogText,
		ResponseSchema:     s.schemaText,
		ProjectContext:     s.projectCtx,
		Blackboard:         s.blackboard(ctx),
		AttachedFiles:      attachedList(s.task.AttachedFiles),
		Notes:              s.nextNote,
	}

	s.mu.Lock()
	history := append([]Turn(nil), s.history...)
	s.mu.Unlock()
	if len(history) == 0 {
		return prompt.Assemble(s.sections, pc)
	}

	kept := history
	if window := s.route.ContextWindow; window > 0 {
		limit := int(float64(window) * s.cfg.ContextBudget)
		budget := limit - s.count(prompt.Assemble(s.sections, pc)) - s.count(turnMsg)
		var dropped int
		kept, dropped = fitHistory(history, budget, s.count)
		if dropped > 0 {
			s.logger.Info("chat history shrunk to fit context budget", "iteration", iter, "dropped_turns", dropped)
		}
	}
	pc.ChatHistory = HistoryDigest(kept)
	if omitted := len(history) - len(kept); omitted > 0 && pc.ChatHistory != "" {
		pc.ChatHistory = fmt.Sprintf("(%d earlier iterations omitted)\n\n%s", omitted, pc.ChatHistory)
	}
	return prompt.Assemble(s.sections, pc)
}

func (s *Session) blackboard(ctx context.Context) string {
	entries, err := s.deps.Store.ListBlackboard(ctx, s.id, s.cfg.BlackboardLimit)
	if err != nil {
		s.logger.Warn("list blackboard failed", "error", err)
		return ""
	}
	notes := make([]prompt.Note, len(entries))
	for i, e := range entries {
		notes[i] = prompt.Note{Iteration: e.Iteration, EntryType: e.EntryType, Content: e.Content}
	}
	return prompt.BlackboardDigest(notes, s.cfg.BlackboardLimit)
}
