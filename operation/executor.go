package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/martinemde/repoagent/catalog"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/response"
)

const maxSearchMatches = 100

type handlerFunc func(ctx context.Context, p Params, res *Result) error

// Executor runs operations for one session against a repository.
type Executor struct {
	store    repostore.Store
	repoID   string
	catalog  *catalog.Registry
	files    *FileRegistry
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithFileRegistry shares an existing registry, for example one restored
// for a resumed session.
func WithFileRegistry(r *FileRegistry) ExecutorOption {
	return func(e *Executor) { e.files = r }
}

// NewExecutor creates an executor over store for repoID. Only operations
// enabled in cat are executed.
func NewExecutor(store repostore.Store, repoID string, cat *catalog.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   store,
		repoID:  repoID,
		catalog: cat,
		files:   NewFileRegistry(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[string]handlerFunc{
		catalog.OpListFiles:        e.listFiles,
		catalog.OpSearch:           e.search,
		catalog.OpWildcardSearch:   e.wildcardSearch,
		catalog.OpReadFile:         e.readFile,
		catalog.OpEditLines:        e.editLines,
		catalog.OpCreateFile:       e.createFile,
		catalog.OpDeleteFile:       e.deleteFile,
		catalog.OpMoveFile:         e.moveFile,
		catalog.OpGetStagedChanges: e.getStagedChanges,
		catalog.OpUnstageFile:      e.unstageFile,
		catalog.OpDiscardAllStaged: e.discardAllStaged,
		catalog.OpProjectInventory: e.projectInventory,
		catalog.OpProjectCategory:  e.projectCategory,
		catalog.OpProjectElements:  e.projectElements,
	}
	return e
}

// Files returns the session file registry.
func (e *Executor) Files() *FileRegistry { return e.files }

// Execute runs one operation. It never returns an error; failures are
// reported in the Result.
func (e *Executor) Execute(ctx context.Context, op response.Operation) Result {
	return e.run(ctx, op, true)
}

// ExecutePlanned runs operation i of plan. A structured file is validated
// and re-indented only by the plan's last write to it, so re-indenting
// never moves lines an earlier-planned edit still refers to.
func (e *Executor) ExecutePlanned(ctx context.Context, plan Plan, i int) Result {
	return e.run(ctx, plan.Operations[i], plan.Settles(i))
}

func (e *Executor) run(ctx context.Context, op response.Operation, settle bool) Result {
	start := time.Now()
	res := Result{Type: op.Type}
	err := e.execute(ctx, op, settle, &res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		e.logger.Warn("operation failed", "type", op.Type, "path", res.Path, "error", err)
		return res
	}
	res.Success = true
	res.Output = TruncateResult(res.Output, op.Type)
	if res.Warning != "" {
		e.logger.Warn("operation warning", "type", op.Type, "path", res.Path, "warning", res.Warning)
	}
	return res
}

func (e *Executor) execute(ctx context.Context, op response.Operation, settle bool, res *Result) error {
	if !e.catalog.IsEnabled(op.Type) {
		return fmt.Errorf("operation %s is not enabled", op.Type)
	}
	h, ok := e.handlers[op.Type]
	if !ok {
		return fmt.Errorf("operation %s is not supported", op.Type)
	}
	p, err := DecodeParams(op.Params)
	if err != nil {
		return err
	}
	p.settle = settle
	res.Path = repostore.CleanPath(p.Path)
	return h(ctx, p, res)
}

type target struct {
	id     string
	path   string
	source string
}

// resolve finds the identifier for a path: the session registry first,
// then staged changes, then committed files. A bare identifier (file_id,
// or a path that is not a known path) is passed straight through.
func (e *Executor) resolve(ctx context.Context, p Params) (target, error) {
	pth := repostore.CleanPath(p.Path)
	if pth != "" {
		if entry, ok := e.files.Get(pth); ok {
			return target{id: entry.ID, path: pth, source: "registry"}, nil
		}
		staged, err := e.store.ListStaged(ctx, e.repoID)
		if err != nil {
			return target{}, err
		}
		for _, c := range staged {
			if c.Path != pth {
				continue
			}
			if c.Kind == repostore.ChangeDelete {
				return target{}, fmt.Errorf("%w: %s is staged for deletion", repostore.ErrNotFound, pth)
			}
			return target{id: c.ID, path: pth, source: "staged"}, nil
		}
		refs, err := e.store.ListPaths(ctx, e.repoID, pth)
		if err != nil {
			return target{}, err
		}
		for _, r := range refs {
			if r.Path == pth {
				return target{id: r.ID, path: pth, source: "store"}, nil
			}
		}
	}

	id := strings.TrimSpace(p.FileID)
	if id == "" {
		id = strings.TrimSpace(p.Path)
	}
	if id != "" {
		if f, err := e.store.ReadContent(ctx, id); err == nil {
			return target{id: id, path: f.Path, source: "id"}, nil
		}
	}
	name := pth
	if name == "" {
		name = id
	}
	return target{}, fmt.Errorf("%w: file %q", repostore.ErrNotFound, name)
}

// CanonicalPath returns the repository path p targets, resolving a file_id
// through the store. It returns "" when nothing resolves.
func (e *Executor) CanonicalPath(ctx context.Context, p Params) string {
	t, err := e.resolve(ctx, p)
	if err != nil {
		return ""
	}
	return repostore.CleanPath(t.path)
}

// LineCount returns the number of lines visible at path.
func (e *Executor) LineCount(ctx context.Context, path string) (int, bool) {
	_, content, err := e.load(ctx, Params{Path: path})
	if err != nil {
		return 0, false
	}
	return len(splitLines(content)), true
}

// load resolves p and reads the visible content. A registry entry whose
// identifier no longer resolves is dropped and resolution retried.
func (e *Executor) load(ctx context.Context, p Params) (target, string, error) {
	t, err := e.resolve(ctx, p)
	if err != nil {
		return t, "", err
	}
	f, err := e.store.ReadContent(ctx, t.id)
	if errors.Is(err, repostore.ErrNotFound) && t.source == "registry" {
		e.files.drop(t.path)
		if t, err = e.resolve(ctx, p); err != nil {
			return t, "", err
		}
		f, err = e.store.ReadContent(ctx, t.id)
	}
	if err != nil {
		return t, "", fmt.Errorf("read %s: %w", t.path, err)
	}
	return t, f.Content, nil
}

func (e *Executor) listFiles(ctx context.Context, p Params, res *Result) error {
	refs, err := e.store.ListPaths(ctx, e.repoID, p.Path)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		res.Output = fmt.Sprintf("No files found under %q.", res.Path)
		return nil
	}
	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = r.Path
	}
	res.Output = strings.Join(paths, "\n")
	return nil
}

func (e *Executor) search(ctx context.Context, p Params, res *Result) error {
	query := strings.ToLower(p.Query)
	refs, err := e.store.ListPaths(ctx, e.repoID, p.Path)
	if err != nil {
		return err
	}
	var matches []string
	truncated := false
	for _, r := range refs {
		f, err := e.store.ReadContent(ctx, r.ID)
		if err != nil {
			continue
		}
		for i, line := range splitLines(f.Content) {
			if !strings.Contains(strings.ToLower(line), query) {
				continue
			}
			if len(matches) == maxSearchMatches {
				truncated = true
				break
			}
			matches = append(matches, fmt.Sprintf("%s:%d: %s", r.Path, i+1, strings.TrimSpace(line)))
		}
		if truncated {
			break
		}
	}
	if len(matches) == 0 {
		res.Output = fmt.Sprintf("No matches for %q.", p.Query)
		return nil
	}
	res.Output = strings.Join(matches, "\n")
	if truncated {
		res.Output += fmt.Sprintf("\n[results truncated at %d matches]", maxSearchMatches)
	}
	return nil
}

func (e *Executor) wildcardSearch(ctx context.Context, p Params, res *Result) error {
	refs, err := e.store.ListPaths(ctx, e.repoID, "")
	if err != nil {
		return err
	}
	var matched []string
	for _, r := range refs {
		if matchGlob(p.Pattern, r.Path) {
			matched = append(matched, r.Path)
		}
	}
	if len(matched) == 0 {
		res.Output = "No files matched the pattern."
		return nil
	}
	res.Output = strings.Join(matched, "\n")
	return nil
}

func (e *Executor) readFile(ctx context.Context, p Params, res *Result) error {
	t, content, err := e.load(ctx, p)
	if err != nil {
		return err
	}
	res.Path, res.SourceID, res.FileID = t.path, t.id, t.id

	lines := splitLines(content)
	n := len(lines)
	from, to := p.StartLine, p.EndLine
	if from < 1 {
		from = 1
	}
	if to < 1 || to > n {
		to = n
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s (%d lines, id %s)\n", t.path, n, t.id)
	if n == 0 {
		sb.WriteString("(empty file)")
		res.Output = sb.String()
		return nil
	}
	if from > to {
		fmt.Fprintf(&sb, "(no lines in range %d-%d)", p.StartLine, p.EndLine)
		res.Output = sb.String()
		return nil
	}
	for i := from - 1; i < to; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	res.Output = strings.TrimSuffix(sb.String(), "\n")
	return nil
}

func (e *Executor) editLines(ctx context.Context, p Params, res *Result) error {
	t, content, err := e.load(ctx, p)
	if err != nil {
		return err
	}
	res.Path, res.SourceID = t.path, t.id

	edited, stats := ApplyEdit(content, p.StartLine, p.EndLine, p.NewContent)
	if p.settle {
		edited, res.Warning = checkStructured(t.path, edited)
	}

	id, err := e.store.StageChange(ctx, e.repoID, repostore.ChangeRequest{
		Kind:       repostore.ChangeEdit,
		Path:       t.path,
		OldContent: content,
		NewContent: edited,
	})
	if err != nil {
		return fmt.Errorf("stage edit of %s: %w", t.path, err)
	}

	// Report what the store now holds.
	f, err := e.store.ReadContent(ctx, id)
	if err != nil {
		return fmt.Errorf("re-read %s after edit: %w", t.path, err)
	}
	e.files.put(t.path, id, f.Content)
	res.FileID = id
	stats.LinesAfter = len(splitLines(f.Content))
	res.Edit = &stats

	switch stats.Mode {
	case EditAppend:
		res.Output = fmt.Sprintf("Appended %d lines to %s.", stats.Inserted, t.path)
	case EditInsert:
		res.Output = fmt.Sprintf("Inserted %d lines before line %d of %s.", stats.Inserted, stats.StartLine, t.path)
	default:
		res.Output = fmt.Sprintf("Replaced lines %d-%d of %s (%d removed, %d inserted).",
			stats.StartLine, stats.EndLine, t.path, stats.Removed, stats.Inserted)
	}
	res.Output += fmt.Sprintf(" File now has %d lines.", stats.LinesAfter)
	return nil
}

func (e *Executor) createFile(ctx context.Context, p Params, res *Result) error {
	pth := repostore.CleanPath(p.Path)
	if pth == "" {
		return fmt.Errorf("create_file: empty path")
	}
	content := p.Content
	if p.settle {
		content, res.Warning = checkStructured(pth, content)
	}

	id, err := e.store.StageChange(ctx, e.repoID, repostore.ChangeRequest{
		Kind:       repostore.ChangeAdd,
		Path:       pth,
		NewContent: content,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", pth, err)
	}
	e.files.put(pth, id, content)
	res.FileID = id
	res.Output = fmt.Sprintf("Created %s (%d lines).", pth, len(splitLines(content)))
	return nil
}

func (e *Executor) deleteFile(ctx context.Context, p Params, res *Result) error {
	t, err := e.resolve(ctx, p)
	if err != nil {
		return err
	}
	res.Path, res.SourceID = t.path, t.id

	staged, err := e.store.ListStaged(ctx, e.repoID)
	if err != nil {
		return err
	}
	for _, c := range staged {
		if c.Path == t.path && c.Kind == repostore.ChangeAdd {
			if err := e.store.Unstage(ctx, e.repoID, t.path); err != nil {
				return fmt.Errorf("unstage %s: %w", t.path, err)
			}
			e.files.drop(t.path)
			res.Output = fmt.Sprintf("Unstaged %s; it only existed as a staged addition.", t.path)
			return nil
		}
	}

	if _, err := e.store.StageChange(ctx, e.repoID, repostore.ChangeRequest{
		Kind: repostore.ChangeDelete,
		Path: t.path,
	}); err != nil {
		return fmt.Errorf("delete %s: %w", t.path, err)
	}
	e.files.drop(t.path)
	res.Output = fmt.Sprintf("Staged deletion of %s.", t.path)
	return nil
}

func (e *Executor) moveFile(ctx context.Context, p Params, res *Result) error {
	t, err := e.resolve(ctx, p)
	if err != nil {
		return err
	}
	res.Path, res.SourceID = t.path, t.id
	to := repostore.CleanPath(p.NewPath)

	id, err := e.store.MovePath(ctx, e.repoID, t.path, to)
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", t.path, to, err)
	}
	f, err := e.store.ReadContent(ctx, id)
	if err != nil {
		return fmt.Errorf("re-read %s after move: %w", to, err)
	}
	e.files.move(t.path, to, id, f.Content)
	res.FileID = id
	res.Output = fmt.Sprintf("Moved %s to %s.", t.path, to)
	return nil
}

func (e *Executor) getStagedChanges(ctx context.Context, _ Params, res *Result) error {
	staged, err := e.store.ListStaged(ctx, e.repoID)
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		res.Output = "No staged changes."
		return nil
	}
	lines := make([]string, len(staged))
	for i, c := range staged {
		lines[i] = fmt.Sprintf("%s %s (%s)", c.Kind, c.Path, c.ID)
	}
	res.Output = strings.Join(lines, "\n")
	return nil
}

func (e *Executor) unstageFile(ctx context.Context, p Params, res *Result) error {
	if err := e.store.Unstage(ctx, e.repoID, res.Path); err != nil {
		return err
	}
	e.files.drop(res.Path)
	res.Output = fmt.Sprintf("Unstaged %s.", res.Path)
	return nil
}

func (e *Executor) discardAllStaged(ctx context.Context, _ Params, res *Result) error {
	staged, err := e.store.ListStaged(ctx, e.repoID)
	if err != nil {
		return err
	}
	if err := e.store.DiscardAllStaged(ctx, e.repoID); err != nil {
		return err
	}
	e.files.clear()
	res.Output = fmt.Sprintf("Discarded %d staged changes.", len(staged))
	return nil
}
