// Package response turns raw model output into an AgentResponse. Parsing is
// total: every input yields a value, degraded to StatusParseError when no
// stage recovers a JSON object.
package response

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Status values carried by AgentResponse.
const (
	StatusContinue       = "continue"
	StatusCompleted      = "completed"
	StatusRequiresCommit = "requires_commit"
	StatusPendingCommit  = "pending_commit"
	StatusParseError     = "parse_error"
)

// DefaultEntryType replaces missing or unknown blackboard entry types.
const DefaultEntryType = "progress"

// maxRawLength bounds the raw text kept on a parse error.
const maxRawLength = 2000

var entryTypes = map[string]bool{
	"planning":   true,
	"progress":   true,
	"decision":   true,
	"reasoning":  true,
	"next_steps": true,
	"reflection": true,
}

// Operation is one requested operation.
type Operation struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Signature is a stable rendering of the operation used for deduplication
// and loop detection. Map keys are sorted by encoding/json.
func (o Operation) Signature() string {
	params, _ := json.Marshal(o.Params)
	return o.Type + ":" + string(params)
}

// BlackboardEntry is the note the agent asks to remember.
type BlackboardEntry struct {
	EntryType string `json:"entry_type"`
	Content   string `json:"content"`
}

// AgentResponse is the structured reply of one iteration.
type AgentResponse struct {
	Reasoning       string           `json:"reasoning"`
	Operations      []Operation      `json:"operations"`
	BlackboardEntry *BlackboardEntry `json:"blackboard_entry,omitempty"`
	Status          string           `json:"status"`

	// Raw holds the truncated model output when Status is StatusParseError.
	Raw   string `json:"raw,omitempty"`
	Error string `json:"error,omitempty"`
	// Stage names the parser stage that succeeded.
	Stage string `json:"-"`
}

// IsTerminal reports whether the status ends the loop.
func (r AgentResponse) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusRequiresCommit, StatusPendingCommit:
		return true
	}
	return false
}

// Parse runs the stage pipeline over raw and normalizes the first object
// recovered.
func Parse(raw string) AgentResponse {
	for _, st := range stages {
		obj, ok := st.fn(raw)
		if !ok || !agentShaped(obj) {
			continue
		}
		resp := normalize(obj)
		resp.Stage = st.name
		return resp
	}
	return AgentResponse{
		Operations: []Operation{},
		Status:     StatusParseError,
		Raw:        truncate(raw, maxRawLength),
		Error:      "no JSON object with agent response fields found",
	}
}

// ParseArguments normalizes tool call arguments that a schema-enforcing
// backend already delivered as a JSON object. Arguments that are not an
// object fall back to the text pipeline.
func ParseArguments(args json.RawMessage) AgentResponse {
	if obj, ok := decodeObject(string(args)); ok && agentShaped(obj) {
		resp := normalize(obj)
		resp.Stage = "tool_call"
		return resp
	}
	return Parse(string(args))
}

// agentShaped requires at least one known top-level field.
func agentShaped(obj map[string]any) bool {
	for _, key := range []string{"reasoning", "operations", "status", "blackboard_entry"} {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

func normalize(obj map[string]any) AgentResponse {
	return AgentResponse{
		Reasoning:       asString(obj["reasoning"]),
		Operations:      normalizeOperations(obj["operations"]),
		BlackboardEntry: normalizeEntry(obj["blackboard_entry"]),
		Status:          normalizeStatus(obj["status"]),
	}
}

func normalizeStatus(v any) string {
	s := strings.ToLower(strings.TrimSpace(asString(v)))
	switch s {
	case "":
		return StatusContinue
	case "complete", "done", "finished":
		return StatusCompleted
	}
	return s
}

func normalizeOperations(v any) []Operation {
	if s, ok := v.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return []Operation{}
		}
		v = decoded
	}
	items, ok := v.([]any)
	if !ok {
		return []Operation{}
	}

	ops := make([]Operation, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ops = append(ops, normalizeOperation(m))
	}
	return ops
}

// normalizeOperation accepts {type, params} and the flat form where the
// parameters sit next to type.
func normalizeOperation(m map[string]any) Operation {
	op := Operation{Type: strings.TrimSpace(asString(m["type"]))}
	if op.Type == "" {
		op.Type = strings.TrimSpace(asString(m["operation"]))
	}

	if p, ok := m["params"]; ok {
		op.Params = asObject(p)
		return op
	}
	op.Params = make(map[string]any, len(m))
	for k, val := range m {
		if k == "type" || k == "operation" {
			continue
		}
		op.Params[k] = val
	}
	return op
}

func normalizeEntry(v any) *BlackboardEntry {
	switch e := v.(type) {
	case string:
		if strings.TrimSpace(e) == "" {
			return nil
		}
		return &BlackboardEntry{EntryType: DefaultEntryType, Content: e}
	case map[string]any:
		content := asString(e["content"])
		if strings.TrimSpace(content) == "" {
			return nil
		}
		entryType := strings.ToLower(strings.TrimSpace(asString(e["entry_type"])))
		if !entryTypes[entryType] {
			entryType = DefaultEntryType
		}
		return &BlackboardEntry{EntryType: entryType, Content: content}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// asObject accepts a map or a JSON-encoded map string.
func asObject(v any) map[string]any {
	switch p := v.(type) {
	case map[string]any:
		return p
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(p), &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
