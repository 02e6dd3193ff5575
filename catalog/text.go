package catalog

import (
	"fmt"
	"strings"
)

// Text renders defs as the operation catalog shown to the model, grouped by
// category in first-seen order.
func Text(defs []ToolDefinition) string {
	var categories []string
	grouped := make(map[string][]ToolDefinition)
	for _, d := range defs {
		if _, ok := grouped[d.Category]; !ok {
			categories = append(categories, d.Category)
		}
		grouped[d.Category] = append(grouped[d.Category], d)
	}

	var sb strings.Builder
	for i, cat := range categories {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "### %s\n", cat)
		for _, d := range grouped[cat] {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
			for _, p := range d.Params {
				req := "optional"
				if p.Required {
					req = "required"
				}
				fmt.Fprintf(&sb, "  - %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
				if len(p.Enum) > 0 {
					fmt.Fprintf(&sb, " One of: %s.", strings.Join(p.Enum, ", "))
				}
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
