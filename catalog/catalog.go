// Package catalog defines the operations an agent may request and derives
// both the human-readable catalog text and the machine-readable response
// schema from the same definitions.
package catalog

import (
	"sort"
	"sync"
)

// Operation names.
const (
	OpListFiles        = "list_files"
	OpSearch           = "search"
	OpWildcardSearch   = "wildcard_search"
	OpReadFile         = "read_file"
	OpEditLines        = "edit_lines"
	OpCreateFile       = "create_file"
	OpDeleteFile       = "delete_file"
	OpMoveFile         = "move_file"
	OpGetStagedChanges = "get_staged_changes"
	OpUnstageFile      = "unstage_file"
	OpDiscardAllStaged = "discard_all_staged"

	OpProjectInventory = "project_inventory"
	OpProjectCategory  = "project_category"
	OpProjectElements  = "project_elements"
)

// Categories group operations in the rendered catalog.
const (
	CategoryDiscovery = "discovery"
	CategoryRead      = "read"
	CategoryWrite     = "write"
	CategoryStaging   = "staging"
	CategoryProject   = "project"
)

// ParamSpec describes one operation parameter.
type ParamSpec struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"` // "string", "integer" or "boolean"
	Required    bool     `json:"required" yaml:"required"`
	Description string   `json:"description" yaml:"description"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ToolDefinition describes one operation in the catalog.
type ToolDefinition struct {
	Name        string      `json:"name" yaml:"name"`
	Category    string      `json:"category" yaml:"category"`
	Description string      `json:"description" yaml:"description"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Params      []ParamSpec `json:"params" yaml:"params"`
}

// RequiredParams returns the names of the required parameters.
func (d ToolDefinition) RequiredParams() []string {
	var out []string
	for _, p := range d.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Options customizes the catalog for one session.
type Options struct {
	// ProjectExploration adds the read-only project operations.
	ProjectExploration bool
	// Disabled lists operation names to turn off.
	Disabled []string
	// Descriptions overrides operation descriptions by name.
	Descriptions map[string]string
}

// Registry holds the operation catalog for one session.
type Registry struct {
	tools map[string]*ToolDefinition
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates a registry holding defs in the given order.
func NewRegistry(defs ...ToolDefinition) *Registry {
	r := &Registry{tools: make(map[string]*ToolDefinition)}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// New builds the default catalog with opts applied.
func New(opts Options) *Registry {
	defs := Defaults()
	if opts.ProjectExploration {
		defs = append(defs, ProjectOperations()...)
	}
	r := NewRegistry(defs...)
	for _, name := range opts.Disabled {
		r.SetEnabled(name, false)
	}
	for name, desc := range opts.Descriptions {
		r.SetDescription(name, desc)
	}
	return r
}

// Register adds or replaces a definition. Replacing keeps the original
// position.
func (r *Registry) Register(def ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; !ok {
		r.order = append(r.order, def.Name)
	}
	d := def
	r.tools[def.Name] = &d
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return *d, true
}

// IsEnabled reports whether name is registered and enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return ok && d.Enabled
}

// SetEnabled toggles an operation. Unknown names are ignored.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.tools[name]; ok {
		d.Enabled = enabled
	}
}

// SetDescription overrides the description of an operation. Blank
// descriptions and unknown names are ignored.
func (r *Registry) SetDescription(name, description string) {
	if description == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.tools[name]; ok {
		d.Description = description
	}
}

// Definitions returns the enabled definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		if d := r.tools[name]; d.Enabled {
			defs = append(defs, *d)
		}
	}
	return defs
}

// Names returns the enabled operation names, sorted.
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	sort.Strings(names)
	return names
}
