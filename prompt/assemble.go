package prompt

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Variable names available to section templates.
const (
	VarTask                = "TASK"
	VarTaskMode            = "TASK_MODE"
	VarAutoCommit          = "AUTO_COMMIT"
	VarToolCatalog         = "TOOL_CATALOG"
	VarResponseSchema      = "RESPONSE_SCHEMA"
	VarProjectContext      = "PROJECT_CONTEXT"
	VarChatHistory         = "CHAT_HISTORY"
	VarBlackboard          = "BLACKBOARD"
	VarAttachedFiles       = "ATTACHED_FILES"
	VarIteration           = "ITERATION"
	VarMaxIterations       = "MAX_ITERATIONS"
	VarRemainingIterations = "REMAINING_ITERATIONS"
	VarNotes               = "NOTES"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Context is everything a prompt may refer to for one iteration.
type Context struct {
	Task               string
	Mode               string
	AutoCommit         bool
	ProjectExploration bool
	Iteration          int
	MaxIterations      int
	ToolCatalog        string
	ResponseSchema     string
	ProjectContext     string
	ChatHistory        string
	Blackboard         string
	AttachedFiles      []string
	// Notes carries steering text for this iteration only.
	Notes string
}

// Variables returns the fixed variable table for c.
func (c Context) Variables() map[string]string {
	remaining := c.MaxIterations - c.Iteration
	if remaining < 0 {
		remaining = 0
	}
	attached := make([]string, len(c.AttachedFiles))
	for i, f := range c.AttachedFiles {
		attached[i] = "- " + f
	}
	return map[string]string{
		VarTask:                c.Task,
		VarTaskMode:            c.Mode,
		VarAutoCommit:          strconv.FormatBool(c.AutoCommit),
		VarToolCatalog:         c.ToolCatalog,
		VarResponseSchema:      c.ResponseSchema,
		VarProjectContext:      c.ProjectContext,
		VarChatHistory:         c.ChatHistory,
		VarBlackboard:          c.Blackboard,
		VarAttachedFiles:       strings.Join(attached, "\n"),
		VarIteration:           strconv.Itoa(c.Iteration),
		VarMaxIterations:       strconv.Itoa(c.MaxIterations),
		VarRemainingIterations: strconv.Itoa(remaining),
		VarNotes:               c.Notes,
	}
}

func (c Context) satisfies(condition string) bool {
	switch condition {
	case "":
		return true
	case CondHasAttachments:
		return len(c.AttachedFiles) > 0
	case CondNoAttachments:
		return len(c.AttachedFiles) == 0
	case CondHasProjectContext:
		return strings.TrimSpace(c.ProjectContext) != ""
	case CondAutoCommit:
		return c.AutoCommit
	case CondManualCommit:
		return !c.AutoCommit
	case CondProjectExploration:
		return c.ProjectExploration
	}
	return false
}

// Substitute replaces {{NAME}} placeholders from vars. Unknown names
// become the empty string.
func Substitute(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.ToUpper(placeholder.FindStringSubmatch(m)[1])
		return vars[name]
	})
}

// Assemble renders the enabled sections that apply to c, in order.
func Assemble(sections []Section, c Context) string {
	applicable := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s.IsEnabled() && c.satisfies(s.Condition) {
			applicable = append(applicable, s)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool { return applicable[i].Order < applicable[j].Order })

	vars := c.Variables()
	parts := make([]string, 0, len(applicable))
	for _, s := range applicable {
		body := strings.TrimSpace(Substitute(s.Content, vars))
		if body == "" && s.Kind == KindDynamic {
			continue
		}
		if s.Title != "" {
			body = "## " + s.Title + "\n\n" + body
		}
		parts = append(parts, strings.TrimSpace(body))
	}
	return strings.Join(parts, "\n\n")
}
