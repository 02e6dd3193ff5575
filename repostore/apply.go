package repostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteStaged writes repoID's staged changes into dir: adds and edits are
// written, deletes remove the file. Paths escaping dir are rejected. The
// staged changes themselves are left untouched.
func WriteStaged(ctx context.Context, s Store, repoID, dir string) ([]StagedChange, error) {
	changes, err := s.ListStaged(ctx, repoID)
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	written := make([]StagedChange, 0, len(changes))
	for _, c := range changes {
		target, err := resolveUnder(root, c.Path)
		if err != nil {
			return written, err
		}
		switch c.Kind {
		case ChangeAdd, ChangeEdit:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return written, fmt.Errorf("write %s: failed to create directory: %w", c.Path, err)
			}
			if err := os.WriteFile(target, []byte(c.Content), 0o644); err != nil {
				return written, fmt.Errorf("write %s: %w", c.Path, err)
			}
		case ChangeDelete:
			if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
				return written, fmt.Errorf("delete %s: %w", c.Path, err)
			}
		}
		written = append(written, c)
	}
	return written, nil
}

func resolveUnder(root, p string) (string, error) {
	clean := CleanPath(p)
	if clean == "" || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("path %q escapes the repository", p)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
