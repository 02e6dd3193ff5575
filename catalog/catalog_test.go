package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultCatalog(t *testing.T) {
	r := New(Options{})
	names := r.Names()
	assert.Len(t, names, 11)
	assert.Contains(t, names, OpEditLines)
	assert.NotContains(t, names, OpProjectInventory)
	assert.False(t, r.IsEnabled(OpProjectInventory))
}

func TestProjectExplorationFlag(t *testing.T) {
	r := New(Options{ProjectExploration: true})
	assert.Len(t, r.Names(), 14)
	assert.True(t, r.IsEnabled(OpProjectElements))
}

func TestDisableAndDescribe(t *testing.T) {
	r := New(Options{
		Disabled:     []string{OpDeleteFile, "no_such_op"},
		Descriptions: map[string]string{OpSearch: "Grep the repository.", OpReadFile: ""},
	})
	assert.False(t, r.IsEnabled(OpDeleteFile))
	for _, d := range r.Definitions() {
		assert.NotEqual(t, OpDeleteFile, d.Name)
	}

	search, ok := r.Get(OpSearch)
	require.True(t, ok)
	assert.Equal(t, "Grep the repository.", search.Description)

	read, ok := r.Get(OpReadFile)
	require.True(t, ok)
	assert.NotEmpty(t, read.Description)
}

func TestRegisterKeepsPosition(t *testing.T) {
	r := NewRegistry(Defaults()...)
	r.Register(ToolDefinition{Name: OpListFiles, Category: CategoryDiscovery, Description: "replaced", Enabled: true})
	defs := r.Definitions()
	require.NotEmpty(t, defs)
	assert.Equal(t, OpListFiles, defs[0].Name)
	assert.Equal(t, "replaced", defs[0].Description)
}

func TestRequiredParams(t *testing.T) {
	r := New(Options{})
	edit, ok := r.Get(OpEditLines)
	require.True(t, ok)
	assert.Equal(t, []string{"path", "start_line", "end_line", "new_content"}, edit.RequiredParams())

	list, _ := r.Get(OpListFiles)
	assert.Empty(t, list.RequiredParams())
}

func TestText(t *testing.T) {
	text := Text(New(Options{}).Definitions())
	assert.True(t, strings.HasPrefix(text, "### discovery\n"))
	assert.Contains(t, text, "- edit_lines: ")
	assert.Contains(t, text, "  - start_line (integer, required): ")
	assert.Contains(t, text, "  - path (string, optional): ")
	assert.Contains(t, text, "### staging")
}

func TestResponseSchema(t *testing.T) {
	defs := New(Options{Disabled: []string{OpMoveFile}}).Definitions()
	schema, err := ResponseSchema(defs)
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	assert.ElementsMatch(t, []any{"reasoning", "operations", "status"}, schema["required"])

	props := schema["properties"].(map[string]any)
	status := props["status"].(map[string]any)
	assert.Equal(t, []any{"continue", "completed", "requires_commit"}, status["enum"])

	entry := props["blackboard_entry"].(map[string]any)
	entryProps := entry["properties"].(map[string]any)
	entryType := entryProps["entry_type"].(map[string]any)
	assert.Len(t, entryType["enum"], len(EntryTypes))

	items := props["operations"].(map[string]any)["items"].(map[string]any)
	opProps := items["properties"].(map[string]any)
	opNames := opProps["type"].(map[string]any)["enum"].([]any)
	assert.Len(t, opNames, len(defs))
	assert.NotContains(t, opNames, OpMoveFile)

	params := opProps["params"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "integer", params["start_line"].(map[string]any)["type"])
	assert.Contains(t, params["path"].(map[string]any)["description"], "edit_lines")
	assert.NotContains(t, params, "new_path")
}

func TestSchemaTextIsJSON(t *testing.T) {
	text := SchemaText(Defaults())
	assert.True(t, strings.HasPrefix(text, "{\n"))
	assert.Contains(t, text, `"blackboard_entry"`)
}
