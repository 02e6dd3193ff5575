package operation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/repoagent/catalog"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/response"
)

const testRepo = "repo"

func newTestExecutor(t *testing.T, files map[string]string, opts catalog.Options) (*Executor, *repostore.MemoryStore) {
	t.Helper()
	store := repostore.NewMemoryStore()
	for p, content := range files {
		_, err := store.PutFile(context.Background(), testRepo, p, content)
		require.NoError(t, err)
	}
	return NewExecutor(store, testRepo, catalog.New(opts)), store
}

func visibleContent(t *testing.T, store repostore.Store, path string) string {
	t.Helper()
	refs, err := store.ListPaths(context.Background(), testRepo, path)
	require.NoError(t, err)
	for _, r := range refs {
		if r.Path == path {
			f, err := store.ReadContent(context.Background(), r.ID)
			require.NoError(t, err)
			return f.Content
		}
	}
	t.Fatalf("%s is not visible", path)
	return ""
}

func TestEditLinesBackToFrontKeepsLineNumbersValid(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"F.txt": numberedLines(25)}, catalog.Options{})
	plan := NewPlanner(catalog.New(catalog.Options{}), nil).Plan(context.Background(), []response.Operation{
		editOp("F.txt", 5, 5, "FIVE"),
		editOp("F.txt", 20, 22, "TWENTY"),
	})
	require.Len(t, plan.Operations, 2)

	for _, o := range plan.Operations {
		res := ex.Execute(ctx, o)
		require.True(t, res.Success, res.Error)
	}

	lines := splitLines(visibleContent(t, store, "F.txt"))
	require.Len(t, lines, 23)
	assert.Equal(t, "line 4", lines[3])
	assert.Equal(t, "FIVE", lines[4])
	assert.Equal(t, "line 6", lines[5])
	assert.Equal(t, "line 19", lines[18])
	assert.Equal(t, "TWENTY", lines[19])
	assert.Equal(t, "line 23", lines[20])
}

func TestEditLinesMixedPathAndFileIDStayBackToFront(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"F.txt": numberedLines(25)}, catalog.Options{})
	read := ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "F.txt"}))
	require.True(t, read.Success, read.Error)

	pl := NewPlanner(catalog.New(catalog.Options{}), nil, WithPathResolver(ex.CanonicalPath))
	plan := pl.Plan(ctx, []response.Operation{
		editOp("F.txt", 5, 5, "A\nB\nC"),
		op(catalog.OpEditLines, map[string]any{
			"file_id": read.FileID, "start_line": 20, "end_line": 22, "new_content": "TWENTY",
		}),
	})
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, []int{20, 5}, starts(t, plan.Operations))

	for _, o := range plan.Operations {
		res := ex.Execute(ctx, o)
		require.True(t, res.Success, res.Error)
	}

	lines := splitLines(visibleContent(t, store, "F.txt"))
	require.Len(t, lines, 25)
	assert.Equal(t, []string{"A", "B", "C"}, lines[4:7])
	assert.Equal(t, "line 19", lines[20])
	assert.Equal(t, "TWENTY", lines[21])
	assert.Equal(t, "line 23", lines[22])
}

func TestCanonicalPathResolvesFileID(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{"pkg/a.go": "package a\n"}, catalog.Options{})
	read := ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "pkg/a.go"}))
	require.True(t, read.Success, read.Error)

	assert.Equal(t, "pkg/a.go", ex.CanonicalPath(ctx, Params{FileID: read.FileID}))
	assert.Equal(t, "pkg/a.go", ex.CanonicalPath(ctx, Params{Path: "./pkg/a.go"}))
	assert.Empty(t, ex.CanonicalPath(ctx, Params{FileID: "nope"}))
}

func TestEditLinesInsertAfterEndOfFile(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"ten.txt": numberedLines(10)}, catalog.Options{})

	res := ex.Execute(ctx, editOp("ten.txt", 11, 10, "eleven"))
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Edit)
	assert.Equal(t, EditAppend, res.Edit.Mode)
	assert.Equal(t, 0, res.Edit.Removed)
	assert.Equal(t, 11, res.Edit.LinesAfter)
	assert.Contains(t, res.Output, "File now has 11 lines.")
	assert.Equal(t, numberedLines(10)+"eleven\n", visibleContent(t, store, "ten.txt"))
}

func TestDeleteOfStagedAddUnstages(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, nil, catalog.Options{})

	created := ex.Execute(ctx, op(catalog.OpCreateFile, map[string]any{"path": "scratch.txt", "content": "tmp\n"}))
	require.True(t, created.Success, created.Error)

	deleted := ex.Execute(ctx, op(catalog.OpDeleteFile, map[string]any{"path": "scratch.txt"}))
	require.True(t, deleted.Success, deleted.Error)
	assert.Contains(t, deleted.Output, "Unstaged")

	staged, err := store.ListStaged(ctx, testRepo)
	require.NoError(t, err)
	assert.Empty(t, staged)
	_, ok := ex.Files().Get("scratch.txt")
	assert.False(t, ok)
}

func TestDeleteOfCommittedFileStagesDelete(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"old.txt": "x\n"}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpDeleteFile, map[string]any{"path": "old.txt"}))
	require.True(t, res.Success, res.Error)

	staged, err := store.ListStaged(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, repostore.ChangeDelete, staged[0].Kind)

	again := ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "old.txt"}))
	assert.False(t, again.Success)
}

func TestResolutionFollowsMostRecentWrite(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"a.txt": "one\ntwo\nthree\n"}, catalog.Options{})

	prevID := ""
	for k := 1; k <= 4; k++ {
		res := ex.Execute(ctx, editOp("a.txt", 1, 1, fmt.Sprintf("v%d", k)))
		require.True(t, res.Success, res.Error)
		if prevID != "" {
			assert.Equal(t, prevID, res.SourceID, "iteration %d resolved a stale id", k)
		}
		assert.NotEqual(t, prevID, res.FileID)

		staged, err := store.ListStaged(ctx, testRepo)
		require.NoError(t, err)
		require.Len(t, staged, 1)
		assert.Equal(t, res.FileID, staged[0].ID)

		entry, ok := ex.Files().Get("a.txt")
		require.True(t, ok)
		assert.Equal(t, res.FileID, entry.ID)
		assert.Equal(t, fmt.Sprintf("v%d\ntwo\nthree\n", k), entry.Content)

		read := ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "a.txt"}))
		require.True(t, read.Success, read.Error)
		assert.Equal(t, res.FileID, read.SourceID)
		assert.Contains(t, read.Output, fmt.Sprintf("1 | v%d", k))

		prevID = res.FileID
	}
}

func TestResolutionRecoversAfterStoreRotatesIdentifiers(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"a.txt": "one\n"}, catalog.Options{})

	first := ex.Execute(ctx, editOp("a.txt", 1, 1, "edited"))
	require.True(t, first.Success, first.Error)

	// An external commit invalidates every staging identifier.
	_, err := store.Commit(ctx, testRepo)
	require.NoError(t, err)
	refs, err := store.ListPaths(ctx, testRepo, "")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	second := ex.Execute(ctx, editOp("a.txt", 1, 1, "again"))
	require.True(t, second.Success, second.Error)
	assert.Equal(t, refs[0].ID, second.SourceID)
	assert.Equal(t, "again\n", visibleContent(t, store, "a.txt"))

	entry, ok := ex.Files().Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, second.FileID, entry.ID)
}

func TestReadFileLineNumbers(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{"abc.txt": "a\nb\nc\n"}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "abc.txt", "start_line": 2}))
	require.True(t, res.Success, res.Error)
	lines := strings.Split(res.Output, "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "File: abc.txt (3 lines, id "))
	assert.Equal(t, "2 | b", lines[1])
	assert.Equal(t, "3 | c", lines[2])
}

func TestReadFileByIdentifier(t *testing.T) {
	ctx := context.Background()
	store := repostore.NewMemoryStore()
	id, err := store.PutFile(ctx, testRepo, "docs/guide.md", "# Guide\n")
	require.NoError(t, err)
	ex := NewExecutor(store, testRepo, catalog.New(catalog.Options{}))

	res := ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"file_id": id}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "docs/guide.md", res.Path)
	assert.Contains(t, res.Output, "1 | # Guide")

	res = ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": id}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "docs/guide.md", res.Path)
}

func TestCreateFile(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"exists.txt": "x"}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpCreateFile, map[string]any{"path": "exists.txt", "content": "y"}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already exists")

	res = ex.Execute(ctx, op(catalog.OpCreateFile, map[string]any{"path": "cfg.json", "content": `{"b":1,"a":2}`}))
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Warning)
	assert.Equal(t, "{\n  \"b\": 1,\n  \"a\": 2\n}\n", visibleContent(t, store, "cfg.json"))
}

func TestInvalidStructuredEditIsStagedWithWarning(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"cfg.json": "{\n  \"a\": 1\n}\n"}, catalog.Options{})

	res := ex.Execute(ctx, editOp("cfg.json", 2, 2, `  "a": 1,`))
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Warning, "not valid JSON")
	assert.Equal(t, "{\n  \"a\": 1,\n}\n", visibleContent(t, store, "cfg.json"))
}

func TestOperationErrorsAreIsolated(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{"ok.txt": "fine\n"}, catalog.Options{Disabled: []string{catalog.OpDeleteFile}})

	results := []Result{
		ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "missing.txt"})),
		ex.Execute(ctx, op(catalog.OpDeleteFile, map[string]any{"path": "ok.txt"})),
		ex.Execute(ctx, op(catalog.OpProjectInventory, nil)),
		ex.Execute(ctx, op("frobnicate", nil)),
		ex.Execute(ctx, op(catalog.OpReadFile, map[string]any{"path": "ok.txt"})),
	}
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "missing.txt")
	assert.Equal(t, "operation delete_file is not enabled", results[1].Error)
	assert.Equal(t, "operation project_inventory is not enabled", results[2].Error)
	assert.Equal(t, "operation frobnicate is not enabled", results[3].Error)
	assert.True(t, results[4].Success, results[4].Error)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{
		"src/a.go":    "package a\n// TODO fix\n",
		"src/b.go":    "package b\n",
		"docs/x.md":   "todo list\n",
		"big/big.txt": strings.Repeat("match\n", 150),
	}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpSearch, map[string]any{"query": "todo", "path": "src"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "src/a.go:2: // TODO fix", res.Output)

	res = ex.Execute(ctx, op(catalog.OpSearch, map[string]any{"query": "match"}))
	require.True(t, res.Success, res.Error)
	lines := strings.Split(res.Output, "\n")
	assert.Len(t, lines, 101)
	assert.Equal(t, "[results truncated at 100 matches]", lines[100])

	res = ex.Execute(ctx, op(catalog.OpSearch, map[string]any{"query": "nothing-here"}))
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "No matches")
}

func TestListAndWildcardSearch(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{
		"src/a.go":     "",
		"src/x/b.go":   "",
		"README.md":    "",
		"src/x/c_test": "",
	}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpListFiles, map[string]any{"path": "src/x"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "src/x/b.go\nsrc/x/c_test", res.Output)

	res = ex.Execute(ctx, op(catalog.OpWildcardSearch, map[string]any{"pattern": "src/**/*.go"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "src/a.go\nsrc/x/b.go", res.Output)
}

func TestMoveFileCarriesRegistryEntry(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"old.go": "package old\n"}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpMoveFile, map[string]any{"path": "old.go", "new_path": "pkg/new.go"}))
	require.True(t, res.Success, res.Error)

	_, ok := ex.Files().Get("old.go")
	assert.False(t, ok)
	entry, ok := ex.Files().Get("pkg/new.go")
	require.True(t, ok)
	assert.Equal(t, res.FileID, entry.ID)
	assert.Equal(t, "package old\n", entry.Content)

	staged, err := store.ListStaged(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, staged, 2)
}

func TestStagingOperations(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"a.txt": "a\n"}, catalog.Options{})

	require.True(t, ex.Execute(ctx, editOp("a.txt", 1, 1, "A")).Success)
	require.True(t, ex.Execute(ctx, op(catalog.OpCreateFile, map[string]any{"path": "b.txt", "content": "b"})).Success)

	res := ex.Execute(ctx, op(catalog.OpGetStagedChanges, nil))
	require.True(t, res.Success, res.Error)
	lines := strings.Split(res.Output, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "edit a.txt ("))
	assert.True(t, strings.HasPrefix(lines[1], "add b.txt ("))

	res = ex.Execute(ctx, op(catalog.OpUnstageFile, map[string]any{"path": "a.txt"}))
	require.True(t, res.Success, res.Error)
	_, ok := ex.Files().Get("a.txt")
	assert.False(t, ok)
	assert.Equal(t, "a\n", visibleContent(t, store, "a.txt"))

	res = ex.Execute(ctx, op(catalog.OpDiscardAllStaged, nil))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Discarded 1 staged changes.", res.Output)
	assert.Equal(t, 0, ex.Files().Len())

	res = ex.Execute(ctx, op(catalog.OpGetStagedChanges, nil))
	assert.Equal(t, "No staged changes.", res.Output)
}

func TestProjectOperations(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{
		"src/a.go":     "package a\n",
		"src/b.go":     "package b\n",
		"package.json": `{"name":"x","scripts":{"test":"go test"}}`,
	}, catalog.Options{ProjectExploration: true})

	res := ex.Execute(ctx, op(catalog.OpProjectInventory, nil))
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "Project inventory: 3 files in 2 categories")
	assert.Contains(t, res.Output, "- src/ 2 files (.go 2)")
	assert.Contains(t, res.Output, "- (root) 1 files (.json 1)")

	res = ex.Execute(ctx, op(catalog.OpProjectCategory, map[string]any{"category": "src"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "src/ (2 files)\nsrc/a.go\nsrc/b.go", res.Output)

	res = ex.Execute(ctx, op(catalog.OpProjectCategory, map[string]any{"category": "nope"}))
	assert.False(t, res.Success)

	res = ex.Execute(ctx, op(catalog.OpProjectElements, map[string]any{"path": "package.json"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "package.json top-level elements:\n- name\n- scripts", res.Output)
}

func TestResultSummary(t *testing.T) {
	ok := Result{Type: "edit_lines", Path: "a.go", Success: true, Edit: &EditStats{Mode: EditReplace, StartLine: 3, Removed: 1, Inserted: 2, LinesAfter: 11}}
	assert.Equal(t, "edit_lines a.go: ok (replace at line 3, -1 +2, now 11 lines)", ok.Summary())

	failed := Result{Type: "read_file", Path: "x", Error: "not found"}
	assert.Equal(t, "read_file x: failed: not found", failed.Summary())
}

func plannerFor(ex *Executor) *Planner {
	return NewPlanner(catalog.New(catalog.Options{}), nil,
		WithPathResolver(ex.CanonicalPath),
		WithLineCounter(ex.LineCount))
}

func TestEditLinesTwoAppendsPastEndKeepBoth(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"ten.txt": numberedLines(10)}, catalog.Options{})

	plan := plannerFor(ex).Plan(ctx, []response.Operation{
		editOp("ten.txt", 11, 11, "X"),
		editOp("ten.txt", 15, 15, "Y"),
	})
	require.Len(t, plan.Operations, 2)
	assert.Empty(t, plan.Dropped)

	for i := range plan.Operations {
		res := ex.ExecutePlanned(ctx, plan, i)
		require.True(t, res.Success, res.Error)
	}
	assert.Equal(t, numberedLines(10)+"X\nY\n", visibleContent(t, store, "ten.txt"))
}

func TestEditLinesAppendAndReplacePastEnd(t *testing.T) {
	ctx := context.Background()
	ex, store := newTestExecutor(t, map[string]string{"ten.txt": numberedLines(10)}, catalog.Options{})

	plan := plannerFor(ex).Plan(ctx, []response.Operation{
		editOp("ten.txt", 9, 14, "NINE"),
		editOp("ten.txt", 12, 12, "TAIL"),
	})
	require.Len(t, plan.Operations, 2)
	assert.Empty(t, plan.Dropped)

	for i := range plan.Operations {
		res := ex.ExecutePlanned(ctx, plan, i)
		require.True(t, res.Success, res.Error)
	}
	assert.Equal(t, numberedLines(8)+"NINE\nTAIL\n", visibleContent(t, store, "ten.txt"))
}

func TestStructuredFileReindentedAfterLastEditOnly(t *testing.T) {
	ctx := context.Background()
	original := "{\n\"tags\": [\"a\", \"b\"],\n\"name\": \"demo\",\n\"version\": \"1.0\"\n}\n"
	ex, store := newTestExecutor(t, map[string]string{"p.json": original}, catalog.Options{})

	plan := plannerFor(ex).Plan(ctx, []response.Operation{
		editOp("p.json", 3, 3, `"name": "renamed",`),
		editOp("p.json", 4, 4, `"version": "2.0"`),
	})
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, []int{4, 3}, starts(t, plan.Operations))
	assert.Equal(t, []bool{false, true}, plan.Settle)

	for i := range plan.Operations {
		res := ex.ExecutePlanned(ctx, plan, i)
		require.True(t, res.Success, res.Error)
		assert.Empty(t, res.Warning)
	}
	assert.Equal(t,
		"{\n  \"tags\": [\n    \"a\",\n    \"b\"\n  ],\n  \"name\": \"renamed\",\n  \"version\": \"2.0\"\n}\n",
		visibleContent(t, store, "p.json"))
}

func TestMoveFileUpdatesRegistry(t *testing.T) {
	ctx := context.Background()
	ex, _ := newTestExecutor(t, map[string]string{"old.txt": "hello\n"}, catalog.Options{})

	res := ex.Execute(ctx, op(catalog.OpMoveFile, map[string]any{"path": "old.txt", "new_path": "new.txt"}))
	require.True(t, res.Success, res.Error)

	_, ok := ex.Files().Get("old.txt")
	assert.False(t, ok)
	entry, ok := ex.Files().Get("new.txt")
	require.True(t, ok)
	assert.Equal(t, res.FileID, entry.ID)
	assert.Equal(t, "hello\n", entry.Content)
}
