// Package persistence records sessions, their transcript, LLM calls,
// operation status and blackboard entries.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Session modes.
const (
	ModeSingleTask            = "single_task"
	ModeIterativeLoop         = "iterative_loop"
	ModeContinuousImprovement = "continuous_improvement"
)

// Session statuses.
const (
	StatusCreated       = "created"
	StatusRunning       = "running"
	StatusCompleted     = "completed"
	StatusPendingCommit = "pending_commit"
	StatusFailed        = "failed"
	StatusAborted       = "aborted"
)

// IsTerminalStatus reports whether status is final.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusPendingCommit, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Operation log statuses.
const (
	OpPending = "pending"
	OpRunning = "running"
	OpSuccess = "success"
	OpFailed  = "failed"
)

// Session is one task run.
type Session struct {
	ID               string     `json:"id"`
	RepoID           string     `json:"repo_id"`
	Task             string     `json:"task"`
	Mode             string     `json:"mode"`
	Model            string     `json:"model"`
	Status           string     `json:"status"`
	AutoCommit       bool       `json:"auto_commit"`
	MaxIterations    int        `json:"max_iterations"`
	CurrentIteration int        `json:"current_iteration"`
	AbortRequested   bool       `json:"abort_requested"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Message is one transcript entry. Seq is assigned on insert.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Iteration int       `json:"iteration"`
	CreatedAt time.Time `json:"created_at"`
}

// LLMCall is the audit record of one model invocation.
type LLMCall struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Iteration    int       `json:"iteration"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	RawOutput    string    `json:"raw_output"`
	ParseSuccess bool      `json:"parse_success"`
	ParseStage   string    `json:"parse_stage,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// OperationLog tracks one operation through execution.
type OperationLog struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Iteration int       `json:"iteration"`
	Seq       int       `json:"seq"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Params    string    `json:"params"`
	Status    string    `json:"status"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlackboardEntry is one note the agent wrote.
type BlackboardEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Iteration int       `json:"iteration"`
	EntryType string    `json:"entry_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions and everything recorded during them.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, limit int) ([]*Session, error)

	InsertMessage(ctx context.Context, m *Message) error
	// ListMessages returns the transcript in order. System messages carry
	// operation summaries and are only included when includeSystem is set.
	ListMessages(ctx context.Context, sessionID string, includeSystem bool) ([]Message, error)

	InsertLLMCall(ctx context.Context, c *LLMCall) error
	ListLLMCalls(ctx context.Context, sessionID string) ([]LLMCall, error)

	LogOperation(ctx context.Context, op *OperationLog) error
	UpdateOperation(ctx context.Context, id, status, output, errMsg string) error
	ListOperations(ctx context.Context, sessionID string) ([]OperationLog, error)

	InsertBlackboardEntry(ctx context.Context, e *BlackboardEntry) error
	// ListBlackboard returns the most recent limit entries, oldest first.
	// A limit of zero or less returns all entries.
	ListBlackboard(ctx context.Context, sessionID string, limit int) ([]BlackboardEntry, error)

	Close() error
}
