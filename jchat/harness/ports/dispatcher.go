package harnessports

// DispatcherName is the only function offered to the model. Its payload names the real tool.
const DispatcherName = "mcp_invoke"

// DispatcherDescription tells the model how to use the dispatcher.
const DispatcherDescription = "Invoke one of the available journey analytics tools by name with its arguments."

// DispatcherParameters returns the JSON Schema of the dispatcher payload for catalog.
func DispatcherParameters(catalog []string) map[string]any {
	names := make([]any, len(catalog))
	for i, n := range catalog {
		names[i] = n
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool": map[string]any{
				"type": "string",
				"enum": names,
			},
			"arguments": map[string]any{
				"type": "object",
			},
		},
		"required": []any{"tool"},
	}
}
