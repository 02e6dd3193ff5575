package response

import (
	"encoding/json"
	"regexp"
	"strings"
)

type stage struct {
	name string
	fn   func(string) (map[string]any, bool)
}

// stages are tried in order; the first that yields an agent-shaped object
// wins.
var stages = []stage{
	{"direct", parseDirect},
	{"strip_markup", parseStripped},
	{"last_fence", parseLastFence},
	{"all_fences", parseAllFences},
	{"braces", parseBraces},
	{"object_match", parseObjectMatch},
}

var (
	leadingTags  = regexp.MustCompile(`^\s*(?:<[^<>{}]{1,80}>\s*)+`)
	trailingTags = regexp.MustCompile(`(?:\s*<[^<>{}]{1,80}>)+\s*$`)
	fencedBlock  = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")
	whitespace   = regexp.MustCompile(`\s+`)
	// singleObject matches an object with at most one level of nesting.
	singleObject = regexp.MustCompile(`\{(?:[^{}]|\{[^{}]*\})*\}`)
)

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func parseDirect(raw string) (map[string]any, bool) {
	return decodeObject(raw)
}

// parseStripped removes tag-like wrapper fragments around the payload, such
// as <tool_call> ... </tool_call>. Tags inside the payload are untouched.
func parseStripped(raw string) (map[string]any, bool) {
	stripped := leadingTags.ReplaceAllString(raw, "")
	stripped = trailingTags.ReplaceAllString(stripped, "")
	if stripped == raw {
		return nil, false
	}
	return decodeObject(stripped)
}

func fencedBlocks(raw string) []string {
	matches := fencedBlock.FindAllStringSubmatch(raw, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, m[1])
	}
	return blocks
}

func parseLastFence(raw string) (map[string]any, bool) {
	blocks := fencedBlocks(raw)
	if len(blocks) == 0 {
		return nil, false
	}
	return decodeObject(blocks[len(blocks)-1])
}

func parseAllFences(raw string) (map[string]any, bool) {
	blocks := fencedBlocks(raw)
	for i := len(blocks) - 1; i >= 0; i-- {
		if obj, ok := decodeObject(blocks[i]); ok && agentShaped(obj) {
			return obj, true
		}
	}
	return nil, false
}

// parseBraces takes the first '{' to the last '}', as-is and then with
// whitespace runs collapsed, which repairs raw newlines inside strings.
func parseBraces(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := raw[start : end+1]
	if obj, ok := decodeObject(candidate); ok {
		return obj, true
	}
	return decodeObject(whitespace.ReplaceAllString(candidate, " "))
}

func parseObjectMatch(raw string) (map[string]any, bool) {
	for _, m := range singleObject.FindAllString(raw, -1) {
		if obj, ok := decodeObject(m); ok && agentShaped(obj) {
			return obj, true
		}
	}
	return nil, false
}
