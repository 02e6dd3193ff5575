package operation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// isStructured reports whether p names a JSON or YAML file.
func isStructured(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// checkStructured validates JSON and YAML files after a write. Valid JSON
// is returned re-indented. Invalid content is returned unchanged with a
// warning; the caller stages it anyway.
func checkStructured(p, content string) (string, string) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(content)); err != nil {
			return content, fmt.Sprintf("%s is not valid JSON (%v); staged anyway, fix it in a later edit", p, err)
		}
		var out bytes.Buffer
		if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
			return content, fmt.Sprintf("%s is not valid JSON (%v); staged anyway, fix it in a later edit", p, err)
		}
		out.WriteByte('\n')
		return out.String(), ""
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal([]byte(content), &v); err != nil {
			return content, fmt.Sprintf("%s is not valid YAML (%v); staged anyway, fix it in a later edit", p, err)
		}
	}
	return content, ""
}

// topLevelKeys returns the top-level keys of a JSON or YAML document in
// document order.
func topLevelKeys(p, content string) ([]string, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%s is not a JSON or YAML file", p)
	}
	// JSON is a subset of YAML, and yaml.Node keeps key order.
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.MappingNode:
		keys := make([]string, 0, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			keys = append(keys, root.Content[i].Value)
		}
		return keys, nil
	case yaml.SequenceNode:
		return []string{fmt.Sprintf("[%d items]", len(root.Content))}, nil
	}
	return nil, fmt.Errorf("%s has no top-level keys", p)
}
