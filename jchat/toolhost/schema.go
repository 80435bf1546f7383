package toolhost

import (
	"encoding/json"
	"fmt"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// inputSchema is the JSON Schema subset tool hosts use to declare arguments.
type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type propertySchema struct {
	Type        json.RawMessage `json:"type"`
	Description string          `json:"description"`
	Default     json.RawMessage `json:"default"`
	Minimum     *float64        `json:"minimum"`
	Maximum     *float64        `json:"maximum"`
	Enum        []any           `json:"enum"`
}

// ParseSchema converts an advertised inputSchema into a ToolSchema.
// An empty schema declares no parameters.
func ParseSchema(name, description string, raw json.RawMessage) (ports.ToolSchema, error) {
	schema := ports.ToolSchema{
		Name:        name,
		Description: description,
		Parameters:  map[string]ports.ParamSpec{},
		Raw:         raw,
	}
	if len(raw) == 0 || string(raw) == "null" {
		return schema, nil
	}

	var in inputSchema
	if err := json.Unmarshal(raw, &in); err != nil {
		return ports.ToolSchema{}, fmt.Errorf("invalid inputSchema for %s: %w", name, err)
	}

	required := make(map[string]bool, len(in.Required))
	for _, r := range in.Required {
		required[r] = true
	}
	schema.Required = append([]string(nil), in.Required...)

	for pname, prop := range in.Properties {
		typ, nullable := propertyType(prop.Type)
		spec := ports.ParamSpec{
			Type:        typ,
			Nullable:    nullable,
			Description: prop.Description,
			Required:    required[pname],
			Minimum:     prop.Minimum,
			Maximum:     prop.Maximum,
			Enum:        prop.Enum,
		}
		if len(prop.Default) > 0 && string(prop.Default) != "null" {
			var def any
			if err := json.Unmarshal(prop.Default, &def); err != nil {
				return ports.ToolSchema{}, fmt.Errorf("invalid default for %s.%s: %w", name, pname, err)
			}
			spec.HasDefault = true
			spec.Default = def
		}
		schema.Parameters[pname] = spec
	}
	return schema, nil
}

// propertyType accepts "string" as well as ["string", "null"]; the latter reports nullable.
func propertyType(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, false
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return "", false
	}
	typ, nullable := "", false
	for _, t := range many {
		if t == "null" {
			nullable = true
		} else if typ == "" {
			typ = t
		}
	}
	if typ == "" && nullable {
		return "null", false
	}
	return typ, nullable
}
