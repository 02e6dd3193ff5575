package prompt

import (
	"fmt"
	"strings"
)

// DefaultBlackboardLimit is how many recent notes are replayed.
const DefaultBlackboardLimit = 10

// Note is one blackboard entry as shown in the prompt.
type Note struct {
	Iteration int
	EntryType string
	Content   string
}

// BlackboardDigest renders the most recent limit notes, oldest first.
func BlackboardDigest(notes []Note, limit int) string {
	if limit <= 0 {
		limit = DefaultBlackboardLimit
	}
	if len(notes) > limit {
		notes = notes[len(notes)-limit:]
	}
	var sb strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&sb, "- [iteration %d, %s] %s\n", n.Iteration, n.EntryType, strings.TrimSpace(n.Content))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
