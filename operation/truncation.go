package operation

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Character limits per operation for output fed back to the model.
var DefaultCharLimits = map[string]int{
	"read_file":          50000,
	"search":             20000,
	"wildcard_search":    20000,
	"list_files":         20000,
	"get_staged_changes": 10000,
	"project_inventory":  10000,
	"project_category":   20000,
	"project_elements":   5000,
}

// Line limits per operation, applied after character truncation.
var DefaultLineLimits = map[string]int{
	"search":          200,
	"wildcard_search": 500,
	"list_files":      500,
}

var defaultModes = map[string]TruncationMode{
	"search":          TruncateTail,
	"wildcard_search": TruncateTail,
	"list_files":      TruncateTail,
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	if mode == TruncateTail {
		return output[:maxChars] +
			fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the end. Narrow the request to see more.]", removed)
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the middle. "+
			"Read a narrower line range to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last lines of output around an
// omission marker.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount
	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateResult applies the character then line limits for an operation.
func TruncateResult(output, opType string) string {
	maxChars, ok := DefaultCharLimits[opType]
	if !ok {
		maxChars = 10000
	}
	mode, ok := defaultModes[opType]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)
	if maxLines := DefaultLineLimits[opType]; maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
