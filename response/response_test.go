package response

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedBlockCompleted(t *testing.T) {
	raw := "```json\n{\"reasoning\":\"ok\",\"operations\":[],\"status\":\"completed\",\"blackboard_entry\":{\"entry_type\":\"progress\",\"content\":\"done\"}}\n```"

	resp := Parse(raw)
	assert.Equal(t, "last_fence", resp.Stage)
	assert.Equal(t, AgentResponse{
		Reasoning:       "ok",
		Operations:      []Operation{},
		BlackboardEntry: &BlackboardEntry{EntryType: "progress", Content: "done"},
		Status:          StatusCompleted,
		Stage:           "last_fence",
	}, resp)
	assert.True(t, resp.IsTerminal())
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		stage  string
		status string
	}{
		{
			name:   "direct",
			raw:    `{"reasoning":"r","operations":[],"status":"continue"}`,
			stage:  "direct",
			status: StatusContinue,
		},
		{
			name:   "tag wrapper",
			raw:    "<tool_call>\n{\"status\":\"completed\"}\n</tool_call>",
			stage:  "strip_markup",
			status: StatusCompleted,
		},
		{
			name:   "preamble and fence",
			raw:    "Here is the JSON:\n```json\n{\"status\":\"requires_commit\"}\n```",
			stage:  "last_fence",
			status: StatusRequiresCommit,
		},
		{
			name:   "last fence is not json",
			raw:    "```json\n{\"status\":\"completed\"}\n```\nand an example:\n```\nls -la\n```",
			stage:  "all_fences",
			status: StatusCompleted,
		},
		{
			name:   "raw newline inside string",
			raw:    "Sure! {\"reasoning\": \"line one\nline two\", \"status\": \"continue\"} Hope that helps.",
			stage:  "braces",
			status: StatusContinue,
		},
		{
			name:   "two objects",
			raw:    `first {"note": 1} then {"status": "completed", "operations": []}`,
			stage:  "object_match",
			status: StatusCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Parse(tt.raw)
			assert.Equal(t, tt.stage, resp.Stage)
			assert.Equal(t, tt.status, resp.Status)
			assert.NotNil(t, resp.Operations)
			assert.Empty(t, resp.Raw)
		})
	}
}

func TestParseTotality(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"null",
		"[]",
		"42",
		`"just a string"`,
		"{",
		"}{",
		`{"reasoning": "truncated`,
		`{"foo": "bar"}`,
		"not json at all",
		"```json\n{\n```",
		"```",
		strings.Repeat("{", 5000),
		"<tool_call>",
		"\x00\xff\xfe",
	}
	for _, in := range inputs {
		resp := Parse(in)
		assert.Equal(t, StatusParseError, resp.Status, "input %q", in)
		assert.NotNil(t, resp.Operations, "input %q", in)
		assert.NotEmpty(t, resp.Error)
		assert.LessOrEqual(t, len(resp.Raw), maxRawLength)
	}
}

func TestParseRandomInputNeverPanics(t *testing.T) {
	alphabet := []string{"{", "}", "[", "]", `"`, ":", ",", " ", "\n", "a", "status", "operations", "```", "<x>", "1", "null"}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		var sb strings.Builder
		for j := rng.Intn(40); j > 0; j-- {
			sb.WriteString(alphabet[rng.Intn(len(alphabet))])
		}
		resp := Parse(sb.String())
		require.NotNil(t, resp.Operations)
		require.NotEmpty(t, resp.Status)
	}
}

func FuzzParse(f *testing.F) {
	f.Add(`{"status":"completed"}`)
	f.Add("```json\n{\"operations\":\"[]\"}\n```")
	f.Add("{")
	f.Fuzz(func(t *testing.T, raw string) {
		resp := Parse(raw)
		if resp.Operations == nil || resp.Status == "" {
			t.Fatalf("malformed response for %q: %+v", raw, resp)
		}
	})
}

func TestParseErrorTruncatesRaw(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	resp := Parse(raw)
	assert.Equal(t, StatusParseError, resp.Status)
	assert.Len(t, resp.Raw, maxRawLength)
	assert.False(t, resp.IsTerminal())
}

func TestParseErrorTruncatesOnRuneBoundary(t *testing.T) {
	// One ASCII byte shifts every three-byte rune across the limit.
	raw := "x" + strings.Repeat("日", 1000)
	resp := Parse(raw)
	assert.Equal(t, StatusParseError, resp.Status)
	assert.True(t, utf8.ValidString(resp.Raw))
	assert.LessOrEqual(t, len(resp.Raw), maxRawLength)
	assert.Equal(t, maxRawLength-1, len(resp.Raw))
}

func TestNormalizeOperations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Operation
	}{
		{
			name: "double encoded",
			raw:  `{"operations":"[{\"type\":\"read_file\",\"params\":{\"path\":\"a.go\"}}]"}`,
			want: []Operation{{Type: "read_file", Params: map[string]any{"path": "a.go"}}},
		},
		{
			name: "bad double encoding",
			raw:  `{"operations":"[{oops"}`,
			want: []Operation{},
		},
		{
			name: "object instead of array",
			raw:  `{"operations":{"type":"read_file"}}`,
			want: []Operation{},
		},
		{
			name: "flat parameters",
			raw:  `{"operations":[{"type":"edit_lines","path":"a.go","start_line":3}]}`,
			want: []Operation{{Type: "edit_lines", Params: map[string]any{"path": "a.go", "start_line": float64(3)}}},
		},
		{
			name: "params encoded as string",
			raw:  `{"operations":[{"type":"list_files","params":"{\"path\":\"src\"}"}]}`,
			want: []Operation{{Type: "list_files", Params: map[string]any{"path": "src"}}},
		},
		{
			name: "non-object entries skipped",
			raw:  `{"operations":["read_file", 3, {"type":"get_staged_changes","params":{}}]}`,
			want: []Operation{{Type: "get_staged_changes", Params: map[string]any{}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Parse(tt.raw)
			assert.Equal(t, tt.want, resp.Operations)
		})
	}
}

func TestNormalizeBlackboardEntry(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *BlackboardEntry
	}{
		{"bare string", `{"blackboard_entry":"remember this"}`, &BlackboardEntry{EntryType: "progress", Content: "remember this"}},
		{"missing type", `{"blackboard_entry":{"content":"c"}}`, &BlackboardEntry{EntryType: "progress", Content: "c"}},
		{"unknown type", `{"blackboard_entry":{"entry_type":"musing","content":"c"}}`, &BlackboardEntry{EntryType: "progress", Content: "c"}},
		{"known type", `{"blackboard_entry":{"entry_type":"Next_Steps","content":"c"}}`, &BlackboardEntry{EntryType: "next_steps", Content: "c"}},
		{"empty content", `{"blackboard_entry":{"entry_type":"decision","content":""}}`, nil},
		{"null", `{"blackboard_entry":null}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw).BlackboardEntry)
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusContinue, Parse(`{"reasoning":"r"}`).Status)
	assert.Equal(t, StatusCompleted, Parse(`{"status":" Done "}`).Status)
	assert.Equal(t, StatusPendingCommit, Parse(`{"status":"pending_commit"}`).Status)
	assert.True(t, Parse(`{"status":"pending_commit"}`).IsTerminal())
	assert.Equal(t, "thinking", Parse(`{"status":"thinking"}`).Status)
}

func TestOperationSignature(t *testing.T) {
	a := Operation{Type: "read_file", Params: map[string]any{"path": "a", "start_line": 1}}
	b := Operation{Type: "read_file", Params: map[string]any{"start_line": 1, "path": "a"}}
	c := Operation{Type: "read_file", Params: map[string]any{"path": "b"}}
	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestParseArguments(t *testing.T) {
	args := []byte(`{"reasoning":"read first","operations":[{"type":"read_file","params":{"path":"a.go"}}],"status":"continue"}`)

	resp := ParseArguments(args)
	assert.Equal(t, "tool_call", resp.Stage)
	assert.Equal(t, StatusContinue, resp.Status)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "read_file", resp.Operations[0].Type)
	assert.Equal(t, "a.go", resp.Operations[0].Params["path"])
}

func TestParseArgumentsFallsBackToText(t *testing.T) {
	resp := ParseArguments([]byte("<args>{\"status\":\"completed\"}</args>"))
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.NotEqual(t, "tool_call", resp.Stage)

	resp = ParseArguments(nil)
	assert.Equal(t, StatusParseError, resp.Status)
	assert.NotNil(t, resp.Operations)
}
