// Package repostore is the client side of the repository file store: paths,
// committed content, and staged (uncommitted) changes layered over it.
package repostore

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a path or identifier does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating or moving onto an existing path.
	ErrExists = errors.New("already exists")
)

// ChangeKind is the kind of a staged change.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeEdit   ChangeKind = "edit"
	ChangeDelete ChangeKind = "delete"
)

// FileRef identifies a visible file.
type FileRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// File is a file with its visible content.
type File struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// StagedChange is one uncommitted mutation.
type StagedChange struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Kind       ChangeKind `json:"kind"`
	OldContent string     `json:"old_content,omitempty"`
	Content    string     `json:"content,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ChangeRequest asks the store to stage a change.
type ChangeRequest struct {
	Kind       ChangeKind
	Path       string
	OldContent string
	NewContent string
}

// Store is the repository store consumed by the operation executor.
// Identifiers of staged changes are reissued on every restage, so callers
// must not cache them across writes.
type Store interface {
	ListPaths(ctx context.Context, repoID, prefix string) ([]FileRef, error)
	// ReadContent returns the visible content for id: staged content
	// overlays committed content.
	ReadContent(ctx context.Context, id string) (File, error)
	// StageChange returns the new staging identifier. Deleting a path
	// that only exists as a staged add drops the add and returns "".
	StageChange(ctx context.Context, repoID string, req ChangeRequest) (string, error)
	ListStaged(ctx context.Context, repoID string) ([]StagedChange, error)
	Unstage(ctx context.Context, repoID, path string) error
	DiscardAllStaged(ctx context.Context, repoID string) error
	// MovePath moves a visible file and returns the identifier at the new
	// path.
	MovePath(ctx context.Context, repoID, from, to string) (string, error)
}

// Seeder writes committed files directly, bypassing staging.
type Seeder interface {
	PutFile(ctx context.Context, repoID, path, content string) (string, error)
}

// Committer applies staged changes. Every touched file gets a new
// identifier.
type Committer interface {
	Commit(ctx context.Context, repoID string) (int, error)
}

// CleanPath normalizes a repository path: slash separated, no leading
// slash or "./", no trailing slash. The root is "".
func CleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// UnderPrefix reports whether p is the prefix itself or inside the prefix
// directory.
func UnderPrefix(p, prefix string) bool {
	prefix = CleanPath(prefix)
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

type record struct {
	ID      string
	Path    string
	Content string
}

// overlay merges committed records with staged changes into the visible
// file list under prefix, sorted by path.
func overlay(committed []record, staged []StagedChange, prefix string) []FileRef {
	visible := make(map[string]string, len(committed)+len(staged))
	for _, r := range committed {
		visible[r.Path] = r.ID
	}
	for _, c := range staged {
		if c.Kind == ChangeDelete {
			delete(visible, c.Path)
			continue
		}
		visible[c.Path] = c.ID
	}

	refs := make([]FileRef, 0, len(visible))
	for p, id := range visible {
		if UnderPrefix(p, prefix) {
			refs = append(refs, FileRef{ID: id, Path: p})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs
}
