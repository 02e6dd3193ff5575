package repostore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists committed files and staged changes in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ Seeder    = (*SQLiteStore)(nil)
	_ Committer = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Staging runs read-modify-write sequences; one writer keeps them serial.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repo_files (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (repo_id, path)
	);

	CREATE TABLE IF NOT EXISTS staged_changes (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		old_content TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (repo_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_staged_repo ON staged_changes(repo_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

type sqlTxn struct {
	ctx  context.Context
	tx   *sql.Tx
	repo string
}

func (t sqlTxn) committed(p string) (*record, error) {
	r := &record{}
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, path, content FROM repo_files WHERE repo_id = ? AND path = ?`, t.repo, p,
	).Scan(&r.ID, &r.Path, &r.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t sqlTxn) staged(p string) (*StagedChange, error) {
	c := &StagedChange{}
	var kind string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, path, kind, old_content, content, created_at FROM staged_changes WHERE repo_id = ? AND path = ?`, t.repo, p,
	).Scan(&c.ID, &c.Path, &kind, &c.OldContent, &c.Content, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Kind = ChangeKind(kind)
	return c, nil
}

func (t sqlTxn) putStaged(c StagedChange) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM staged_changes WHERE repo_id = ? AND path = ?`, t.repo, c.Path); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO staged_changes (id, repo_id, path, kind, old_content, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, t.repo, c.Path, string(c.Kind), c.OldContent, c.Content, c.CreatedAt,
	)
	return err
}

func (t sqlTxn) dropStaged(p string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM staged_changes WHERE repo_id = ? AND path = ?`, t.repo, p)
	return err
}

// inTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, repoID string, fn func(t sqlTxn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(sqlTxn{ctx: ctx, tx: tx, repo: repoID}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// PutFile writes a committed file and returns its identifier.
func (s *SQLiteStore) PutFile(ctx context.Context, repoID, path, content string) (string, error) {
	p := CleanPath(path)
	if p == "" {
		return "", fmt.Errorf("put file: empty path")
	}
	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_files (id, repo_id, path, content, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (repo_id, path) DO UPDATE SET id = excluded.id, content = excluded.content, updated_at = excluded.updated_at`,
		id, repoID, p, content, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("put file %s: %w", p, err)
	}
	return id, nil
}

func (s *SQLiteStore) ListPaths(ctx context.Context, repoID, prefix string) ([]FileRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, content FROM repo_files WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var committed []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.ID, &r.Path, &r.Content); err != nil {
			return nil, err
		}
		committed = append(committed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	staged, err := s.ListStaged(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return overlay(committed, staged, prefix), nil
}

func (s *SQLiteStore) ReadContent(ctx context.Context, id string) (File, error) {
	var f File
	err := s.inTx(ctx, "", func(t sqlTxn) error {
		var repo string
		err := t.tx.QueryRowContext(ctx, `SELECT repo_id, path FROM repo_files WHERE id = ?`, id).Scan(&repo, &f.Path)
		if err == nil {
			t.repo = repo
			content, err := visible(t, f.Path)
			if err != nil {
				return err
			}
			f.ID, f.Content = id, content
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var kind string
		err = t.tx.QueryRowContext(ctx, `SELECT path, kind, content FROM staged_changes WHERE id = ?`, id).Scan(&f.Path, &kind, &f.Content)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if ChangeKind(kind) == ChangeDelete {
			return fmt.Errorf("%w: %s was deleted", ErrNotFound, f.Path)
		}
		f.ID = id
		return nil
	})
	if err != nil {
		return File{}, err
	}
	return f, nil
}

func (s *SQLiteStore) StageChange(ctx context.Context, repoID string, req ChangeRequest) (string, error) {
	var id string
	err := s.inTx(ctx, repoID, func(t sqlTxn) error {
		var err error
		id, err = stage(t, req)
		return err
	})
	return id, err
}

func (s *SQLiteStore) ListStaged(ctx context.Context, repoID string) ([]StagedChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, kind, old_content, content, created_at FROM staged_changes WHERE repo_id = ? ORDER BY path`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StagedChange{}
	for rows.Next() {
		var c StagedChange
		var kind string
		if err := rows.Scan(&c.ID, &c.Path, &kind, &c.OldContent, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Kind = ChangeKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Unstage(ctx context.Context, repoID, path string) error {
	p := CleanPath(path)
	res, err := s.db.ExecContext(ctx, `DELETE FROM staged_changes WHERE repo_id = ? AND path = ?`, repoID, p)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no staged change for %s", ErrNotFound, p)
	}
	return nil
}

func (s *SQLiteStore) DiscardAllStaged(ctx context.Context, repoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM staged_changes WHERE repo_id = ?`, repoID)
	return err
}

func (s *SQLiteStore) MovePath(ctx context.Context, repoID, from, to string) (string, error) {
	var id string
	err := s.inTx(ctx, repoID, func(t sqlTxn) error {
		var err error
		id, err = move(t, from, to)
		return err
	})
	return id, err
}

// Commit applies all staged changes of repoID.
func (s *SQLiteStore) Commit(ctx context.Context, repoID string) (int, error) {
	staged, err := s.ListStaged(ctx, repoID)
	if err != nil {
		return 0, err
	}
	err = s.inTx(ctx, repoID, func(t sqlTxn) error {
		now := time.Now().UTC()
		for _, c := range staged {
			if _, err := t.tx.ExecContext(ctx, `DELETE FROM repo_files WHERE repo_id = ? AND path = ?`, repoID, c.Path); err != nil {
				return err
			}
			if c.Kind != ChangeDelete {
				if _, err := t.tx.ExecContext(ctx,
					`INSERT INTO repo_files (id, repo_id, path, content, updated_at) VALUES (?, ?, ?, ?, ?)`,
					newID(), repoID, c.Path, c.Content, now); err != nil {
					return err
				}
			}
		}
		_, err := t.tx.ExecContext(ctx, `DELETE FROM staged_changes WHERE repo_id = ?`, repoID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(staged), nil
}
