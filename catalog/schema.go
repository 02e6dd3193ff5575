package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Status values the agent may report.
const (
	StatusContinue       = "continue"
	StatusCompleted      = "completed"
	StatusRequiresCommit = "requires_commit"
)

// EntryTypes are the accepted blackboard entry types.
var EntryTypes = []string{"planning", "progress", "decision", "reasoning", "next_steps", "reflection"}

// responseEnvelope is reflected into the top level of the response schema.
// Descriptions must not contain commas: the jsonschema tag splits on them.
type responseEnvelope struct {
	Reasoning       string              `json:"reasoning" jsonschema:"required,description=Short explanation of what you are doing and why"`
	Operations      []operationEnvelope `json:"operations" jsonschema:"required,description=Operations to execute this iteration in order"`
	BlackboardEntry blackboardEnvelope  `json:"blackboard_entry" jsonschema:"description=One note to remember in later iterations"`
	Status          string              `json:"status" jsonschema:"required,enum=continue,enum=completed,enum=requires_commit,description=continue to keep working; completed when the task is done; requires_commit when staged changes await review"`
}

type operationEnvelope struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

type blackboardEnvelope struct {
	EntryType string `json:"entry_type" jsonschema:"required,enum=planning,enum=progress,enum=decision,enum=reasoning,enum=next_steps,enum=reflection"`
	Content   string `json:"content" jsonschema:"required"`
}

// ResponseSchema builds the JSON Schema of one agent reply for the given
// operations. Every backend convention receives this same schema.
func ResponseSchema(defs []ToolDefinition) (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&responseEnvelope{})
	if ops, ok := schema.Properties.Get("operations"); ok {
		ops.Items = operationSchema(defs)
	}
	return schemaToMap(schema)
}

// SchemaText renders ResponseSchema as indented JSON for prompts.
func SchemaText(defs []ToolDefinition) string {
	schema, err := ResponseSchema(defs)
	if err != nil {
		return ""
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// operationSchema describes one operation object. Parameters of all
// operations are merged into a single params object so that backends
// without union support accept the schema.
func operationSchema(defs []ToolDefinition) *jsonschema.Schema {
	names := make([]any, 0, len(defs))
	specs := make(map[string]ParamSpec)
	users := make(map[string][]string)
	var order []string
	for _, d := range defs {
		names = append(names, d.Name)
		for _, p := range d.Params {
			if _, seen := specs[p.Name]; !seen {
				specs[p.Name] = p
				order = append(order, p.Name)
			}
			users[p.Name] = append(users[p.Name], d.Name)
		}
	}

	params := jsonschema.NewProperties()
	for _, name := range order {
		p := specs[name]
		s := &jsonschema.Schema{
			Type:        p.Type,
			Description: fmt.Sprintf("%s Used by: %s.", p.Description, strings.Join(users[name], ", ")),
		}
		for _, e := range p.Enum {
			s.Enum = append(s.Enum, e)
		}
		params.Set(name, s)
	}

	props := jsonschema.NewProperties()
	props.Set("type", &jsonschema.Schema{
		Type:        "string",
		Enum:        names,
		Description: "Operation name.",
	})
	props.Set("params", &jsonschema.Schema{
		Type:        "object",
		Properties:  params,
		Description: "Parameters for the operation. Only the ones the operation uses are read.",
	})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"type", "params"},
	}
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
