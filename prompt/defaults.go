package prompt

import (
	_ "embed"
)

//go:embed default_sections.yaml
var defaultSectionsYAML []byte

// DefaultSections returns the built-in prompt sections.
func DefaultSections() []Section {
	sections, err := ParseSections(defaultSectionsYAML)
	if err != nil {
		panic("prompt: invalid embedded sections: " + err.Error())
	}
	return sections
}
