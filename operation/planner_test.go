package operation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/repoagent/catalog"
	"github.com/martinemde/repoagent/response"
)

func editOp(path string, start, end int, content string) response.Operation {
	return response.Operation{Type: catalog.OpEditLines, Params: map[string]any{
		"path": path, "start_line": float64(start), "end_line": float64(end), "new_content": content,
	}}
}

func op(typ string, params map[string]any) response.Operation {
	return response.Operation{Type: typ, Params: params}
}

func starts(t *testing.T, ops []response.Operation) []int {
	t.Helper()
	out := make([]int, 0, len(ops))
	for _, o := range ops {
		p, err := DecodeParams(o.Params)
		require.NoError(t, err)
		out = append(out, p.StartLine)
	}
	return out
}

func TestPlanOrdersSameFileEditsBackToFront(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		editOp("F", 5, 5, "five"),
		editOp("F", 20, 22, "twenty"),
	})
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, []int{20, 5}, starts(t, plan.Operations))
	assert.Empty(t, plan.Dropped)
}

func TestPlanKeepsOtherOperationsInPlace(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		op(catalog.OpReadFile, map[string]any{"path": "a.go"}),
		editOp("F", 5, 5, "x"),
		op(catalog.OpListFiles, nil),
		editOp("F", 20, 22, "y"),
		editOp("G", 1, 1, "z"),
	})
	require.Len(t, plan.Operations, 5)
	types := make([]string, len(plan.Operations))
	for i, o := range plan.Operations {
		types[i] = o.Type
	}
	assert.Equal(t, []string{
		catalog.OpReadFile, catalog.OpEditLines, catalog.OpEditLines, catalog.OpListFiles, catalog.OpEditLines,
	}, types)
	assert.Equal(t, []int{20, 5}, starts(t, plan.Operations[1:3]))
	assert.Equal(t, "G", plan.Operations[4].Params["path"])
}

func TestPlanDropsOverlappingEdits(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		editOp("F", 10, 12, "a"),
		editOp("F", 12, 14, "b"),
		editOp("F", 1, 3, "c"),
	})
	assert.Equal(t, []int{12, 1}, starts(t, plan.Operations))
	require.Len(t, plan.Dropped, 1)
	assert.Contains(t, plan.Dropped[0].Reason, "overlaps")
}

func TestPlanDropsMissingRequiredParams(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		op(catalog.OpEditLines, map[string]any{"path": "a.go", "start_line": 1, "end_line": 1}),
		op(catalog.OpSearch, map[string]any{"query": ""}),
		op(catalog.OpReadFile, map[string]any{"file_id": "abc"}),
		op(catalog.OpCreateFile, map[string]any{"path": "empty.txt", "content": ""}),
		op(catalog.OpMoveFile, map[string]any{"path": "a.go", "new_path": nil}),
	})
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, catalog.OpReadFile, plan.Operations[0].Type)
	assert.Equal(t, catalog.OpCreateFile, plan.Operations[1].Type)
	require.Len(t, plan.Dropped, 3)
	assert.Contains(t, plan.Dropped[0].Reason, "new_content")
	assert.Contains(t, plan.Dropped[1].Reason, "query")
	assert.Contains(t, plan.Dropped[2].Reason, "new_path")
}

func TestPlanDeduplicates(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		op(catalog.OpReadFile, map[string]any{"path": "a.go"}),
		op(catalog.OpReadFile, map[string]any{"path": "a.go"}),
		op(catalog.OpReadFile, map[string]any{"path": "b.go"}),
	})
	assert.Len(t, plan.Operations, 2)
	require.Len(t, plan.Dropped, 1)
	assert.Contains(t, plan.Dropped[0].Reason, "duplicate")
}

func TestPlanKeepsUnknownOperationsForExecution(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{op("frobnicate", nil)})
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, "frobnicate", plan.Operations[0].Type)
}

func TestPlanDropsEditWithUndecodableLines(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		op(catalog.OpEditLines, map[string]any{"path": "a.go", "start_line": "first", "end_line": 2, "new_content": "x"}),
	})
	assert.Empty(t, plan.Operations)
	assert.Len(t, plan.Dropped, 1)
}

func TestDecodeParamsLooseNumbers(t *testing.T) {
	p, err := DecodeParams(map[string]any{"path": "a.go", "start_line": "5", "end_line": 7.0, "extra": true})
	require.NoError(t, err)
	assert.Equal(t, 5, p.StartLine)
	assert.Equal(t, 7, p.EndLine)
	assert.Equal(t, "a.go", p.Path)
}

func TestPlanDeduplicatesLooselyTypedParams(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		op(catalog.OpReadFile, map[string]any{"path": "a.go", "start_line": 5}),
		op(catalog.OpReadFile, map[string]any{"path": "a.go", "start_line": "5"}),
		op(catalog.OpReadFile, map[string]any{"path": "a.go", "start_line": float64(6)}),
	})
	require.Len(t, plan.Operations, 2)
	require.Len(t, plan.Dropped, 1)
	assert.Contains(t, plan.Dropped[0].Reason, "duplicate")
}

func TestPlanGroupsEditsByResolvedPath(t *testing.T) {
	resolve := func(_ context.Context, p Params) string {
		if p.FileID == "id-1" {
			return "F"
		}
		return p.Path
	}
	pl := NewPlanner(catalog.New(catalog.Options{}), nil, WithPathResolver(resolve))
	plan := pl.Plan(context.Background(), []response.Operation{
		editOp("F", 5, 5, "five"),
		op(catalog.OpEditLines, map[string]any{"file_id": "id-1", "start_line": 20, "end_line": 22, "new_content": "x"}),
	})
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, []int{20, 5}, starts(t, plan.Operations))
}

func TestPlanClampsEditsPastEndToAppends(t *testing.T) {
	count := func(_ context.Context, path string) (int, bool) { return 10, path == "F" }
	pl := NewPlanner(catalog.New(catalog.Options{}), nil, WithLineCounter(count))
	plan := pl.Plan(context.Background(), []response.Operation{
		editOp("F", 11, 11, "X"),
		editOp("F", 15, 15, "Y"),
	})
	require.Len(t, plan.Operations, 2)
	assert.Empty(t, plan.Dropped)
	// Equal starts run in reverse arrival order so X ends up before Y.
	assert.Equal(t, "Y", plan.Operations[0].Params["new_content"])
	assert.Equal(t, "X", plan.Operations[1].Params["new_content"])
	for _, o := range plan.Operations {
		assert.Equal(t, 11, o.Params["start_line"])
		assert.Equal(t, 10, o.Params["end_line"])
	}
}

func TestPlanSettlesStructuredFilesOnLastWrite(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		op(catalog.OpCreateFile, map[string]any{"path": "new.json", "content": "{}"}),
		editOp("cfg.json", 2, 2, "a"),
		editOp("notes.txt", 1, 1, "b"),
		editOp("cfg.json", 5, 5, "c"),
		editOp("new.json", 1, 1, `{"a": 1}`),
	})
	require.Len(t, plan.Operations, 5)
	// Plan order: create new.json, cfg.json 5 then 2, notes.txt, new.json.
	assert.Equal(t, []bool{false, false, true, true, true}, plan.Settle)
	assert.True(t, plan.Settles(99))
}

func TestPlanReplacementBeforeInsertAtSameLine(t *testing.T) {
	pl := NewPlanner(catalog.New(catalog.Options{}), nil)
	plan := pl.Plan(context.Background(), []response.Operation{
		editOp("F", 5, 4, "inserted"),
		editOp("F", 5, 7, "replaced"),
	})
	require.Len(t, plan.Operations, 2)
	assert.Empty(t, plan.Dropped)
	assert.Equal(t, "replaced", plan.Operations[0].Params["new_content"])
	assert.Equal(t, "inserted", plan.Operations[1].Params["new_content"])
}
