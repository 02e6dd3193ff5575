// Package operation plans and executes the file operations an agent
// requests in one iteration against a repository store.
package operation

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Params is the union of all operation parameters. Values arrive loosely
// typed from model output ("5", 5 or 5.0 for a line number).
type Params struct {
	Path       string `mapstructure:"path"`
	FileID     string `mapstructure:"file_id"`
	NewPath    string `mapstructure:"new_path"`
	StartLine  int    `mapstructure:"start_line"`
	EndLine    int    `mapstructure:"end_line"`
	NewContent string `mapstructure:"new_content"`
	Content    string `mapstructure:"content"`
	Query      string `mapstructure:"query"`
	Pattern    string `mapstructure:"pattern"`
	Category   string `mapstructure:"category"`

	// settle is set by the executor, never decoded: a write with settle
	// false leaves structured files as written.
	settle bool
}

// DecodeParams decodes a raw parameter map. Unknown keys are ignored.
func DecodeParams(raw map[string]any) (Params, error) {
	var p Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("invalid params: %w", err)
	}
	return p, nil
}

// Result is the outcome of one operation. Failures are values; one failing
// operation never stops the batch.
type Result struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`

	// SourceID is the identifier the target resolved to; FileID is the
	// identifier after a write.
	SourceID string     `json:"source_id,omitempty"`
	FileID   string     `json:"file_id,omitempty"`
	Edit     *EditStats `json:"edit,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Summary renders a one-line description of the result for history and
// logs.
func (r Result) Summary() string {
	target := r.Type
	if r.Path != "" {
		target += " " + r.Path
	}
	if !r.Success {
		return fmt.Sprintf("%s: failed: %s", target, r.Error)
	}
	s := target + ": ok"
	if r.Edit != nil {
		s += fmt.Sprintf(" (%s at line %d, -%d +%d, now %d lines)",
			r.Edit.Mode, r.Edit.StartLine, r.Edit.Removed, r.Edit.Inserted, r.Edit.LinesAfter)
	}
	if r.Warning != "" {
		s += " [warning: " + r.Warning + "]"
	}
	return s
}
