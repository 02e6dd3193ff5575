package operation

import "strings"

// Edit modes reported by ApplyEdit.
const (
	EditReplace = "replace"
	EditInsert  = "insert"
	EditAppend  = "append"
)

// EditStats describes what ApplyEdit did.
type EditStats struct {
	Mode        string `json:"mode"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Removed     int    `json:"removed"`
	Inserted    int    `json:"inserted"`
	LinesBefore int    `json:"lines_before"`
	LinesAfter  int    `json:"lines_after"`
}

// splitLines splits content into lines without the trailing newline. Empty
// content has no lines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// ApplyEdit replaces lines start..end (1-based, inclusive) of content with
// newContent. Out-of-range input is clamped:
//
//	start < 1           -> start = 1
//	start > line count  -> append
//	start > end         -> insert before start, nothing removed
//	end > line count    -> end = line count
func ApplyEdit(content string, start, end int, newContent string) (string, EditStats) {
	lines := splitLines(content)
	n := len(lines)
	var repl []string
	if newContent != "" {
		repl = strings.Split(strings.TrimSuffix(newContent, "\n"), "\n")
	}

	if start < 1 {
		start = 1
	}
	stats := EditStats{StartLine: start, LinesBefore: n, Inserted: len(repl)}

	out := make([]string, 0, n+len(repl))
	switch {
	case start > n:
		stats.Mode = EditAppend
		stats.StartLine = n + 1
		stats.EndLine = n
		out = append(append(out, lines...), repl...)
	case start > end:
		stats.Mode = EditInsert
		stats.EndLine = start - 1
		out = append(out, lines[:start-1]...)
		out = append(out, repl...)
		out = append(out, lines[start-1:]...)
	default:
		if end > n {
			end = n
		}
		stats.Mode = EditReplace
		stats.EndLine = end
		stats.Removed = end - start + 1
		out = append(out, lines[:start-1]...)
		out = append(out, repl...)
		out = append(out, lines[end:]...)
	}
	stats.LinesAfter = len(out)

	if len(out) == 0 {
		return "", stats
	}
	trailing := strings.HasSuffix(content, "\n") || (n == 0 && strings.HasSuffix(newContent, "\n"))
	result := strings.Join(out, "\n")
	if trailing {
		result += "\n"
	}
	return result, stats
}
