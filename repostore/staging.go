package repostore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// txn is the primitive view of one repository used by the staging rules.
// Backends run every public mutation inside one txn.
type txn interface {
	committed(path string) (*record, error)
	staged(path string) (*StagedChange, error)
	putStaged(c StagedChange) error
	dropStaged(path string) error
}

func newID() string {
	return uuid.New().String()
}

// visible returns the content at path after staging, or ErrNotFound.
func visible(t txn, p string) (string, error) {
	st, err := t.staged(p)
	if err != nil {
		return "", err
	}
	if st != nil {
		if st.Kind == ChangeDelete {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return st.Content, nil
	}
	rec, err := t.committed(p)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return rec.Content, nil
}

// stage applies one change request, merging it with any change already
// staged on the path:
//
//	add    + edit   -> add with the new content
//	add    + delete -> nothing staged
//	delete + add    -> edit against the committed content
//	edit   + delete -> delete
func stage(t txn, req ChangeRequest) (string, error) {
	p := CleanPath(req.Path)
	if p == "" {
		return "", fmt.Errorf("stage %s: empty path", req.Kind)
	}

	existing, err := t.staged(p)
	if err != nil {
		return "", err
	}
	rec, err := t.committed(p)
	if err != nil {
		return "", err
	}
	_, visErr := visible(t, p)
	exists := visErr == nil

	change := StagedChange{ID: newID(), Path: p, CreatedAt: time.Now().UTC()}

	switch req.Kind {
	case ChangeAdd:
		if exists {
			return "", fmt.Errorf("%w: %s", ErrExists, p)
		}
		change.Kind = ChangeAdd
		change.Content = req.NewContent
		if rec != nil {
			// The committed file was staged for deletion.
			change.Kind = ChangeEdit
			change.OldContent = rec.Content
		}

	case ChangeEdit:
		if !exists {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		change.Kind = ChangeEdit
		change.Content = req.NewContent
		if existing != nil && existing.Kind == ChangeAdd {
			change.Kind = ChangeAdd
		} else if rec != nil {
			change.OldContent = rec.Content
		} else {
			change.OldContent = req.OldContent
		}

	case ChangeDelete:
		if !exists {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		if existing != nil && existing.Kind == ChangeAdd {
			return "", t.dropStaged(p)
		}
		change.Kind = ChangeDelete
		if rec != nil {
			change.OldContent = rec.Content
		}

	default:
		return "", fmt.Errorf("stage: unknown change kind %q", req.Kind)
	}

	if err := t.putStaged(change); err != nil {
		return "", err
	}
	return change.ID, nil
}

// move relocates a visible file. A staged add simply changes path; a
// committed file becomes a staged delete plus a staged add.
func move(t txn, from, to string) (string, error) {
	from, to = CleanPath(from), CleanPath(to)
	if from == "" || to == "" {
		return "", fmt.Errorf("move: empty path")
	}
	if from == to {
		return "", fmt.Errorf("move %s: source and destination are the same", from)
	}
	content, err := visible(t, from)
	if err != nil {
		return "", err
	}
	if _, err := visible(t, to); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, to)
	}

	existing, err := t.staged(from)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Kind == ChangeAdd {
		if err := t.dropStaged(from); err != nil {
			return "", err
		}
	} else if _, err := stage(t, ChangeRequest{Kind: ChangeDelete, Path: from}); err != nil {
		return "", err
	}
	return stage(t, ChangeRequest{Kind: ChangeAdd, Path: to, NewContent: content})
}
