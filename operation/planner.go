package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/martinemde/repoagent/catalog"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/response"
)

// Dropped is an operation the planner refused to execute.
type Dropped struct {
	Operation response.Operation `json:"operation"`
	Reason    string             `json:"reason"`
}

// Plan is the ordered batch to execute plus what was dropped.
type Plan struct {
	Operations []response.Operation `json:"operations"`
	Dropped    []Dropped            `json:"dropped,omitempty"`
	// Settle marks, per operation, whether a structured file it writes is
	// validated and re-indented afterwards. Only the last write to each
	// structured file in the batch settles it.
	Settle []bool `json:"-"`
}

// Settles reports whether operation i settles the file it writes.
func (p Plan) Settles(i int) bool {
	if i < 0 || i >= len(p.Settle) {
		return true
	}
	return p.Settle[i]
}

// PathResolver returns the repository path an operation targets, or ""
// when it cannot be resolved.
type PathResolver func(ctx context.Context, p Params) string

// LineCounter returns the number of lines currently visible at path.
type LineCounter func(ctx context.Context, path string) (int, bool)

// Planner validates, deduplicates and orders a batch of operations.
type Planner struct {
	catalog *catalog.Registry
	logger  *slog.Logger
	resolve PathResolver
	lines   LineCounter
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPathResolver groups edits by resolved path, so an edit naming a file
// by file_id and one naming it by path are ordered together.
func WithPathResolver(r PathResolver) PlannerOption {
	return func(pl *Planner) { pl.resolve = r }
}

// WithLineCounter clamps edit line numbers to each file's length before
// ordering, so edits past the end of a file are ordered as appends.
func WithLineCounter(c LineCounter) PlannerOption {
	return func(pl *Planner) { pl.lines = c }
}

// NewPlanner creates a planner over cat. A nil logger discards logs.
func NewPlanner(cat *catalog.Registry, logger *slog.Logger, opts ...PlannerOption) *Planner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pl := &Planner{catalog: cat, logger: logger}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Parameters that may legitimately be empty strings.
var blankAllowed = map[string]bool{
	"content":     true,
	"new_content": true,
}

// Plan drops operations missing required parameters and duplicates of an
// earlier operation, then orders edit_lines back to front per file. Each
// file's edits are emitted where that file's first edit appeared. An edit
// whose end_line reaches the start_line of the edit applied before it is
// dropped as an overlap. Inserts and appends at the same line are applied
// in reverse arrival order, so their text lands in arrival order.
//
// Unknown and disabled operations are kept so that execution reports them
// individually.
func (pl *Planner) Plan(ctx context.Context, ops []response.Operation) Plan {
	var plan Plan
	drop := func(op response.Operation, reason string) {
		pl.logger.Warn("dropping operation", "type", op.Type, "reason", reason)
		plan.Dropped = append(plan.Dropped, Dropped{Operation: op, Reason: reason})
	}

	seen := make(map[string]bool)
	var valid []response.Operation
	for _, op := range ops {
		if missing := pl.missingParam(op); missing != "" {
			drop(op, fmt.Sprintf("missing required parameter %q", missing))
			continue
		}
		sig := pl.signature(op)
		if seen[sig] {
			drop(op, "duplicate of an earlier operation")
			continue
		}
		seen[sig] = true
		valid = append(valid, op)
	}

	type edit struct {
		op         response.Operation
		seq        int
		start, end int
	}
	groups := make(map[string][]edit)
	var order []string
	slots := make([]string, len(valid))
	for i, op := range valid {
		if op.Type != catalog.OpEditLines {
			continue
		}
		p, err := DecodeParams(op.Params)
		if err != nil {
			drop(op, err.Error())
			slots[i] = "-"
			continue
		}
		key := pl.editKey(ctx, p)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
			slots[i] = key
		} else {
			slots[i] = "-"
		}
		groups[key] = append(groups[key], edit{op: op, seq: i, start: p.StartLine, end: p.EndLine})
	}

	ordered := make(map[string][]response.Operation, len(groups))
	for _, key := range order {
		edits := groups[key]
		if n, ok := pl.lineCount(ctx, key); ok {
			for i := range edits {
				edits[i].op, edits[i].start, edits[i].end = clampEdit(edits[i].op, edits[i].start, edits[i].end, n)
			}
		}
		sort.SliceStable(edits, func(i, j int) bool {
			a, b := edits[i], edits[j]
			if a.start != b.start {
				return a.start > b.start
			}
			// At one start line a replacement goes before inserts, and
			// inserts go in reverse so their text lands in arrival order.
			aInsert, bInsert := a.end < a.start, b.end < b.start
			if aInsert != bInsert {
				return bInsert
			}
			if aInsert {
				return a.seq > b.seq
			}
			return a.seq < b.seq
		})
		var kept []response.Operation
		prevStart := 0
		for i, e := range edits {
			if i > 0 && e.end >= prevStart {
				drop(e.op, fmt.Sprintf("overlaps an edit starting at line %d", prevStart))
				continue
			}
			kept = append(kept, e.op)
			prevStart = e.start
		}
		ordered[key] = kept
	}

	for i, op := range valid {
		switch {
		case op.Type != catalog.OpEditLines:
			plan.Operations = append(plan.Operations, op)
		case slots[i] != "" && slots[i] != "-":
			plan.Operations = append(plan.Operations, ordered[slots[i]]...)
		}
	}
	plan.Settle = pl.settle(ctx, plan.Operations)
	return plan
}

func (pl *Planner) lineCount(ctx context.Context, key string) (int, bool) {
	if pl.lines == nil || strings.HasPrefix(key, "id:") {
		return 0, false
	}
	return pl.lines(ctx, key)
}

// clampEdit pins an edit to a file of n lines the way ApplyEdit would, and
// rewrites the operation to match. Every edit past the end becomes an
// append at n+1, so a second append is not mistaken for a replacement of
// the first one's lines.
func clampEdit(op response.Operation, start, end, n int) (response.Operation, int, int) {
	s, e := start, end
	if s < 1 {
		s = 1
	}
	switch {
	case s > n:
		s, e = n+1, n
	case e > n:
		e = n
	}
	if s == start && e == end {
		return op, s, e
	}
	params := make(map[string]any, len(op.Params))
	for k, v := range op.Params {
		params[k] = v
	}
	params["start_line"], params["end_line"] = s, e
	return response.Operation{Type: op.Type, Params: params}, s, e
}

// settle marks the last write to each structured file. Earlier writes skip
// re-indenting so that later edits in the batch keep their line numbers.
func (pl *Planner) settle(ctx context.Context, ops []response.Operation) []bool {
	settle := make([]bool, len(ops))
	last := make(map[string]int)
	for i, op := range ops {
		settle[i] = true
		var key string
		switch op.Type {
		case catalog.OpEditLines:
			p, err := DecodeParams(op.Params)
			if err != nil {
				continue
			}
			key = pl.editKey(ctx, p)
		case catalog.OpCreateFile:
			p, err := DecodeParams(op.Params)
			if err != nil {
				continue
			}
			key = repostore.CleanPath(p.Path)
		default:
			continue
		}
		if !isStructured(key) {
			continue
		}
		if j, ok := last[key]; ok {
			settle[j] = false
		}
		last[key] = i
	}
	return settle
}

// missingParam returns the first required parameter op lacks. A file_id
// satisfies a required path.
func (pl *Planner) missingParam(op response.Operation) string {
	def, ok := pl.catalog.Get(op.Type)
	if !ok {
		return ""
	}
	for _, name := range def.RequiredParams() {
		if present(op.Params, name) {
			continue
		}
		if name == "path" && present(op.Params, "file_id") {
			continue
		}
		return name
	}
	return ""
}

func present(params map[string]any, name string) bool {
	v, ok := params[name]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" && !blankAllowed[name] {
		return false
	}
	return true
}

// signature identifies a catalog operation by its decoded parameters, so
// "5" and 5 name the same line.
func (pl *Planner) signature(op response.Operation) string {
	if _, ok := pl.catalog.Get(op.Type); !ok {
		return op.Signature()
	}
	p, err := DecodeParams(op.Params)
	if err != nil {
		return op.Signature()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return op.Signature()
	}
	return op.Type + ":" + string(b)
}

func (pl *Planner) editKey(ctx context.Context, p Params) string {
	if pl.resolve != nil {
		if path := pl.resolve(ctx, p); path != "" {
			return path
		}
	}
	if path := repostore.CleanPath(p.Path); path != "" {
		return path
	}
	return "id:" + p.FileID
}
