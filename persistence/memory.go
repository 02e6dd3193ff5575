package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	sessions   map[string]*Session
	messages   map[string][]Message
	calls      map[string][]LLMCall
	operations map[string][]OperationLog
	blackboard map[string][]BlackboardEntry
	mu         sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*Session),
		messages:   make(map[string][]Message),
		calls:      make(map[string][]LLMCall),
		operations: make(map[string][]OperationLog),
		blackboard: make(map[string][]BlackboardEntry),
	}
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func ensureTime(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	ensureID(&s.ID)
	ensureTime(&s.CreatedAt)
	s.UpdatedAt = s.CreatedAt
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertMessage(_ context.Context, msg *Message) error {
	ensureID(&msg.ID)
	ensureTime(&msg.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Seq = len(m.messages[msg.SessionID]) + 1
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, includeSystem bool) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Message{}
	for _, msg := range m.messages[sessionID] {
		if msg.Role == RoleSystem && !includeSystem {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *MemoryStore) InsertLLMCall(_ context.Context, c *LLMCall) error {
	ensureID(&c.ID)
	ensureTime(&c.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.SessionID] = append(m.calls[c.SessionID], *c)
	return nil
}

func (m *MemoryStore) ListLLMCalls(_ context.Context, sessionID string) ([]LLMCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LLMCall{}, m.calls[sessionID]...), nil
}

func (m *MemoryStore) LogOperation(_ context.Context, op *OperationLog) error {
	ensureID(&op.ID)
	ensureTime(&op.CreatedAt)
	op.UpdatedAt = op.CreatedAt
	if op.Status == "" {
		op.Status = OpPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op.SessionID] = append(m.operations[op.SessionID], *op)
	return nil
}

func (m *MemoryStore) UpdateOperation(_ context.Context, id, status, output, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, ops := range m.operations {
		for i := range ops {
			if ops[i].ID != id {
				continue
			}
			ops[i].Status = status
			ops[i].Output = output
			ops[i].Error = errMsg
			ops[i].UpdatedAt = time.Now().UTC()
			m.operations[sid] = ops
			return nil
		}
	}
	return fmt.Errorf("operation %s: %w", id, ErrNotFound)
}

func (m *MemoryStore) ListOperations(_ context.Context, sessionID string) ([]OperationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]OperationLog{}, m.operations[sessionID]...), nil
}

func (m *MemoryStore) InsertBlackboardEntry(_ context.Context, e *BlackboardEntry) error {
	ensureID(&e.ID)
	ensureTime(&e.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blackboard[e.SessionID] = append(m.blackboard[e.SessionID], *e)
	return nil
}

func (m *MemoryStore) ListBlackboard(_ context.Context, sessionID string, limit int) ([]BlackboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.blackboard[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]BlackboardEntry{}, entries...), nil
}

func (m *MemoryStore) Close() error { return nil }
