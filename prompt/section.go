// Package prompt assembles the system prompt from ordered, named sections
// with {{VARIABLE}} placeholders.
package prompt

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Section kinds. A dynamic section whose content is empty after
// substitution is dropped.
const (
	KindStatic  = "static"
	KindDynamic = "dynamic"
)

// Conditions select sections by context.
const (
	CondHasAttachments     = "has_attachments"
	CondNoAttachments      = "no_attachments"
	CondHasProjectContext  = "has_project_context"
	CondAutoCommit         = "auto_commit"
	CondManualCommit       = "manual_commit"
	CondProjectExploration = "project_exploration"
)

var knownConditions = map[string]bool{
	"":                     true,
	CondHasAttachments:     true,
	CondNoAttachments:      true,
	CondHasProjectContext:  true,
	CondAutoCommit:         true,
	CondManualCommit:       true,
	CondProjectExploration: true,
}

// Section is one named part of the system prompt.
type Section struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Kind      string `json:"kind" yaml:"kind"`
	Editable  bool   `json:"editable" yaml:"editable"`
	Order     int    `json:"order" yaml:"order"`
	Content   string `json:"content" yaml:"content"`
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// IsEnabled reports whether the section is on. Sections are on unless
// explicitly disabled.
func (s Section) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type sectionFile struct {
	Sections []Section `yaml:"sections"`
}

// ParseSections decodes a YAML document with a top-level "sections" list.
func ParseSections(data []byte) ([]Section, error) {
	var f sectionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt sections: %w", err)
	}
	if err := ValidateSections(f.Sections); err != nil {
		return nil, err
	}
	return f.Sections, nil
}

// LoadSections reads prompt sections from a YAML file.
func LoadSections(path string) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt sections: %w", err)
	}
	return ParseSections(data)
}

// ValidateSections checks ids, kinds and conditions.
func ValidateSections(sections []Section) error {
	seen := make(map[string]bool, len(sections))
	for i, s := range sections {
		if s.ID == "" {
			return fmt.Errorf("prompt section %d: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("prompt section %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if s.Kind != KindStatic && s.Kind != KindDynamic {
			return fmt.Errorf("prompt section %q: kind must be %q or %q", s.ID, KindStatic, KindDynamic)
		}
		if !knownConditions[s.Condition] {
			return fmt.Errorf("prompt section %q: unknown condition %q", s.ID, s.Condition)
		}
	}
	return nil
}

// MergeSections overlays overrides onto base by id. Overrides with new ids
// are added.
func MergeSections(base, overrides []Section) []Section {
	out := make([]Section, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}
	for _, o := range overrides {
		if i, ok := index[o.ID]; ok {
			out[i] = o
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
