package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/repoagent/repostore"
)

func boolPtr(b bool) *bool { return &b }

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"TASK": "fix it", "ITERATION": "3"}
	assert.Equal(t, "do fix it now", Substitute("do {{TASK}} now", vars))
	assert.Equal(t, "iter 3", Substitute("iter {{ ITERATION }}", vars))
	assert.Equal(t, "a  b", Substitute("a {{UNKNOWN}} b", vars))
	assert.Equal(t, "fix it", Substitute("{{task}}", vars))
	assert.Equal(t, "{TASK}", Substitute("{TASK}", vars))
}

func TestAssembleOrdersFiltersAndDropsEmptyDynamicSections(t *testing.T) {
	sections := []Section{
		{ID: "tail", Kind: KindStatic, Order: 90, Content: "last"},
		{ID: "head", Kind: KindStatic, Order: 10, Content: "first"},
		{ID: "task", Title: "Task", Kind: KindDynamic, Order: 20, Content: "{{TASK}}"},
		{ID: "history", Title: "History", Kind: KindDynamic, Order: 30, Content: "{{CHAT_HISTORY}}"},
		{ID: "off", Kind: KindStatic, Order: 40, Content: "disabled", Enabled: boolPtr(false)},
		{ID: "static-empty", Title: "Kept", Kind: KindStatic, Order: 50, Content: "{{NOTES}}"},
	}
	got := Assemble(sections, Context{Task: "Rename the package"})
	assert.Equal(t, "first\n\n## Task\n\nRename the package\n\n## Kept\n\nlast", got)
	assert.NotContains(t, got, "History")
	assert.NotContains(t, got, "disabled")
}

func TestAssembleConditions(t *testing.T) {
	sections := []Section{
		{ID: "with", Kind: KindDynamic, Order: 1, Condition: CondHasAttachments, Content: "Attached:\n{{ATTACHED_FILES}}"},
		{ID: "without", Kind: KindStatic, Order: 1, Condition: CondNoAttachments, Content: "Nothing attached."},
		{ID: "auto", Kind: KindStatic, Order: 2, Condition: CondAutoCommit, Content: "auto"},
		{ID: "manual", Kind: KindStatic, Order: 2, Condition: CondManualCommit, Content: "manual"},
	}
	assert.Equal(t, "Nothing attached.\n\nmanual", Assemble(sections, Context{}))
	assert.Equal(t, "Attached:\n- a.go\n- b.go\n\nauto",
		Assemble(sections, Context{AttachedFiles: []string{"a.go", "b.go"}, AutoCommit: true}))
}

func TestVariables(t *testing.T) {
	vars := Context{Iteration: 3, MaxIterations: 10, AutoCommit: true, Mode: "single_task"}.Variables()
	assert.Equal(t, "3", vars[VarIteration])
	assert.Equal(t, "10", vars[VarMaxIterations])
	assert.Equal(t, "7", vars[VarRemainingIterations])
	assert.Equal(t, "true", vars[VarAutoCommit])
	assert.Equal(t, "single_task", vars[VarTaskMode])

	over := Context{Iteration: 12, MaxIterations: 10}.Variables()
	assert.Equal(t, "0", over[VarRemainingIterations])
}

func TestDefaultSectionsAssemble(t *testing.T) {
	sections := DefaultSections()
	require.NoError(t, ValidateSections(sections))

	got := Assemble(sections, Context{
		Task:           "Add a README",
		Mode:           "single_task",
		Iteration:      1,
		MaxIterations:  10,
		ToolCatalog:    "### discovery\n- list_files: List files.",
		ResponseSchema: `{"type":"object"}`,
	})
	assert.Contains(t, got, "## Task\n\nAdd a README")
	assert.Contains(t, got, "No files were attached")
	assert.Contains(t, got, "- list_files: List files.")
	assert.Contains(t, got, `{"type":"object"}`)
	assert.Contains(t, got, "A person reviews and commits")
	assert.Contains(t, got, "This is iteration 1 of 10 (9 remaining).")
	assert.NotContains(t, got, "## Previous iterations")
	assert.NotContains(t, got, "## Your notes")
	assert.NotContains(t, got, "{{")
	assert.True(t, strings.HasPrefix(got, "You are an autonomous software agent"))
}

func TestParseSectionsValidation(t *testing.T) {
	_, err := ParseSections([]byte("sections:\n  - id: a\n    kind: sometimes\n"))
	assert.ErrorContains(t, err, "kind must be")

	_, err = ParseSections([]byte("sections:\n  - id: a\n    kind: static\n  - id: a\n    kind: static\n"))
	assert.ErrorContains(t, err, "duplicate id")

	_, err = ParseSections([]byte("sections:\n  - id: a\n    kind: static\n    condition: full_moon\n"))
	assert.ErrorContains(t, err, "unknown condition")

	_, err = ParseSections([]byte("sections:\n  - kind: static\n"))
	assert.ErrorContains(t, err, "id is required")
}

func TestLoadSectionsAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sections.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sections:
  - id: identity
    kind: static
    order: 10
    content: You are a careful documentation agent.
  - id: style
    title: Style
    kind: static
    order: 57
    enabled: true
    content: Prefer short sentences.
`), 0o644))

	overrides, err := LoadSections(path)
	require.NoError(t, err)
	merged := MergeSections(DefaultSections(), overrides)

	got := Assemble(merged, Context{Task: "x", MaxIterations: 1})
	assert.True(t, strings.HasPrefix(got, "You are a careful documentation agent."))
	assert.Contains(t, got, "## Style\n\nPrefer short sentences.")
	assert.Less(t, strings.Index(got, "## Editing rules"), strings.Index(got, "## Style"))
	assert.Less(t, strings.Index(got, "## Style"), strings.Index(got, "## Response format"))
}

func TestBlackboardDigest(t *testing.T) {
	var notes []Note
	for i := 1; i <= 12; i++ {
		notes = append(notes, Note{Iteration: i, EntryType: "progress", Content: " step "})
	}
	got := BlackboardDigest(notes, 10)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "- [iteration 3, progress] step", lines[0])
	assert.Equal(t, "- [iteration 12, progress] step", lines[9])
	assert.Empty(t, BlackboardDigest(nil, 10))
}

func TestProjectDigest(t *testing.T) {
	ctx := context.Background()
	store := repostore.NewMemoryStore()
	for p, c := range map[string]string{
		"AGENTS.md":     "Run go test before finishing.",
		"CLAUDE.md":     "Anthropic specific.",
		"pkg/AGENTS.md": "Package rules.",
		"pkg/a.go":      "package pkg",
		"go.mod":        "module x",
	} {
		_, err := store.PutFile(ctx, "r", p, c)
		require.NoError(t, err)
	}

	got, err := ProjectDigest(ctx, store, "r", "openai")
	require.NoError(t, err)
	assert.Contains(t, got, "Repository layout (5 files):")
	assert.Contains(t, got, "- pkg/ (2 files)")
	assert.Contains(t, got, "# AGENTS.md\n\nRun go test before finishing.")
	assert.Contains(t, got, "# pkg/AGENTS.md\n\nPackage rules.")
	assert.NotContains(t, got, "Anthropic specific.")
	assert.Less(t, strings.Index(got, "# AGENTS.md"), strings.Index(got, "# pkg/AGENTS.md"))

	got, err = ProjectDigest(ctx, store, "r", "anthropic")
	require.NoError(t, err)
	assert.Contains(t, got, "Anthropic specific.")

	empty, err := ProjectDigest(ctx, store, "other", "openai")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEnvironmentContext(t *testing.T) {
	got := EnvironmentContext("repo-1", "gpt-4o")
	assert.True(t, strings.HasPrefix(got, "<environment>\n"))
	assert.Contains(t, got, "Repository: repo-1")
	assert.Contains(t, got, "Model: gpt-4o")
}
