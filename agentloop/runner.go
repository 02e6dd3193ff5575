package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/martinemde/repoagent/persistence"
)

// ErrSessionEnded is returned when aborting a session that already
// reached a terminal status.
var ErrSessionEnded = errors.New("session already ended")

type run struct {
	session *Session
	journal *Journal
	done    chan struct{}
}

// DefaultRetention is how long a finished session's event journal stays
// in memory.
const DefaultRetention = 10 * time.Minute

// Runner accepts task submissions and runs each session in its own
// goroutine. Sessions share nothing but the stores.
type Runner struct {
	deps      Deps
	cfg       LoopConfig
	retention time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	runs      map[string]*run
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetention sets how long a finished session stays subscribable with
// its full event replay. Afterwards only its final status is replayed.
func WithRetention(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.retention = d
		}
	}
}

// NewRunner creates a runner.
func NewRunner(deps Deps, cfg LoopConfig, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		deps:      deps,
		cfg:       cfg,
		retention: DefaultRetention,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates and records a session, starts it, and returns its id.
// Configuration errors are returned before a session exists.
func (r *Runner) Submit(ctx context.Context, task TaskRequest) (string, error) {
	s, err := NewSession(ctx, r.deps, task, r.cfg)
	if err != nil {
		return "", err
	}
	rn := &run{session: s, journal: NewJournal(), done: make(chan struct{})}

	r.mu.Lock()
	r.runs[s.ID()] = rn
	r.mu.Unlock()

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		rn.journal.Drain(s.Events())
	}()
	go func() {
		defer r.wg.Done()
		if _, err := s.Run(r.ctx); err != nil {
			s.logger.Warn("read final session record failed", "error", err)
		}
		close(rn.done)
		r.evictAfter(s.ID(), r.retention)
	}()
	return s.ID(), nil
}

// evictAfter forgets a finished run once d has passed or the runner is
// closed. Later lookups fall back to the store.
func (r *Runner) evictAfter(id string, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.ctx.Done():
	}
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

func (r *Runner) lookup(id string) (*run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[id]
	return rn, ok
}

// Get returns the persisted session.
func (r *Runner) Get(ctx context.Context, id string) (*persistence.Session, error) {
	return r.deps.Store.GetSession(ctx, id)
}

// List returns the most recent sessions, newest first.
func (r *Runner) List(ctx context.Context, limit int) ([]*persistence.Session, error) {
	return r.deps.Store.ListSessions(ctx, limit)
}

// Messages returns the user-visible transcript.
func (r *Runner) Messages(ctx context.Context, id string) ([]persistence.Message, error) {
	if _, err := r.deps.Store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return r.deps.Store.ListMessages(ctx, id, false)
}

// Abort asks a session to stop. Sessions not running in this process are
// flagged in the store and stop at their next iteration.
func (r *Runner) Abort(ctx context.Context, id string) error {
	rec, err := r.deps.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if persistence.IsTerminalStatus(rec.Status) {
		return fmt.Errorf("%s: %w", id, ErrSessionEnded)
	}
	if rn, ok := r.lookup(id); ok {
		rn.session.Abort()
		return nil
	}
	rec.AbortRequested = true
	return r.deps.Store.UpdateSession(ctx, rec)
}

// Subscribe replays a session's events and follows live ones. A finished
// session no longer held in memory replays only its session_end event.
// Sessions running in other processes have no journal.
func (r *Runner) Subscribe(ctx context.Context, id string) (<-chan SessionEvent, func(), error) {
	if rn, ok := r.lookup(id); ok {
		ch, cancel := rn.journal.Subscribe(0)
		return ch, cancel, nil
	}
	rec, err := r.deps.Store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !persistence.IsTerminalStatus(rec.Status) {
		return nil, nil, fmt.Errorf("session %s has no event journal here: %w", id, persistence.ErrNotFound)
	}
	ch := make(chan SessionEvent, 1)
	ch <- endEvent(rec)
	close(ch)
	return ch, func() {}, nil
}

// endEvent rebuilds the session_end event from a persisted record.
func endEvent(rec *persistence.Session) SessionEvent {
	data := map[string]interface{}{"status": rec.Status, "iterations": rec.CurrentIteration}
	if rec.Error != "" {
		data["error"] = rec.Error
	}
	ts := rec.UpdatedAt
	if rec.CompletedAt != nil {
		ts = *rec.CompletedAt
	}
	return SessionEvent{
		Kind:      EventSessionEnd,
		Timestamp: ts,
		SessionID: rec.ID,
		Iteration: rec.CurrentIteration,
		Data:      data,
	}
}

// Wait blocks until the session finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (*persistence.Session, error) {
	rn, ok := r.lookup(id)
	if !ok {
		return r.deps.Store.GetSession(ctx, id)
	}
	select {
	case <-rn.done:
		return r.deps.Store.GetSession(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close aborts running sessions and waits for them to finish.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
