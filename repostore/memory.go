package repostore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It backs the CLI and tests.
type MemoryStore struct {
	files  map[string]map[string]*record       // repo -> path -> committed
	staged map[string]map[string]*StagedChange // repo -> path -> staged
	mu     sync.Mutex
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Seeder    = (*MemoryStore)(nil)
	_ Committer = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:  make(map[string]map[string]*record),
		staged: make(map[string]map[string]*StagedChange),
	}
}

type memTxn struct {
	s    *MemoryStore
	repo string
}

func (t memTxn) committed(p string) (*record, error) {
	if r, ok := t.s.files[t.repo][p]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (t memTxn) staged(p string) (*StagedChange, error) {
	if c, ok := t.s.staged[t.repo][p]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (t memTxn) putStaged(c StagedChange) error {
	if t.s.staged[t.repo] == nil {
		t.s.staged[t.repo] = make(map[string]*StagedChange)
	}
	t.s.staged[t.repo][c.Path] = &c
	return nil
}

func (t memTxn) dropStaged(p string) error {
	delete(t.s.staged[t.repo], p)
	return nil
}

// PutFile writes a committed file and returns its identifier.
func (s *MemoryStore) PutFile(_ context.Context, repoID, path, content string) (string, error) {
	p := CleanPath(path)
	if p == "" {
		return "", fmt.Errorf("put file: empty path")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[repoID] == nil {
		s.files[repoID] = make(map[string]*record)
	}
	r := &record{ID: newID(), Path: p, Content: content}
	s.files[repoID][p] = r
	return r.ID, nil
}

func (s *MemoryStore) ListPaths(_ context.Context, repoID, prefix string) ([]FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	committed := make([]record, 0, len(s.files[repoID]))
	for _, r := range s.files[repoID] {
		committed = append(committed, *r)
	}
	return overlay(committed, s.stagedList(repoID), prefix), nil
}

func (s *MemoryStore) ReadContent(_ context.Context, id string) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for repo, files := range s.files {
		for _, r := range files {
			if r.ID != id {
				continue
			}
			content, err := visible(memTxn{s: s, repo: repo}, r.Path)
			if err != nil {
				return File{}, err
			}
			return File{ID: id, Path: r.Path, Content: content}, nil
		}
	}
	for _, changes := range s.staged {
		for _, c := range changes {
			if c.ID != id {
				continue
			}
			if c.Kind == ChangeDelete {
				return File{}, fmt.Errorf("%w: %s was deleted", ErrNotFound, c.Path)
			}
			return File{ID: id, Path: c.Path, Content: c.Content}, nil
		}
	}
	return File{}, fmt.Errorf("%w: id %s", ErrNotFound, id)
}

func (s *MemoryStore) StageChange(_ context.Context, repoID string, req ChangeRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stage(memTxn{s: s, repo: repoID}, req)
}

func (s *MemoryStore) ListStaged(_ context.Context, repoID string) ([]StagedChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stagedList(repoID), nil
}

func (s *MemoryStore) stagedList(repoID string) []StagedChange {
	out := make([]StagedChange, 0, len(s.staged[repoID]))
	for _, c := range s.staged[repoID] {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *MemoryStore) Unstage(_ context.Context, repoID, path string) error {
	p := CleanPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staged[repoID][p]; !ok {
		return fmt.Errorf("%w: no staged change for %s", ErrNotFound, p)
	}
	delete(s.staged[repoID], p)
	return nil
}

func (s *MemoryStore) DiscardAllStaged(_ context.Context, repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, repoID)
	return nil
}

func (s *MemoryStore) MovePath(_ context.Context, repoID, from, to string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return move(memTxn{s: s, repo: repoID}, from, to)
}

// Commit applies all staged changes of repoID.
func (s *MemoryStore) Commit(_ context.Context, repoID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[repoID] == nil {
		s.files[repoID] = make(map[string]*record)
	}
	n := 0
	for p, c := range s.staged[repoID] {
		switch c.Kind {
		case ChangeDelete:
			delete(s.files[repoID], p)
		default:
			s.files[repoID][p] = &record{ID: newID(), Path: p, Content: c.Content}
		}
		n++
	}
	delete(s.staged, repoID)
	return n, nil
}
