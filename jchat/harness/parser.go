package harness

import (
	"encoding/json"
	"strings"
	"sync"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// Dispatch is a decoded dispatcher payload: the real tool and its arguments.
type Dispatch struct {
	Tool      string
	Arguments map[string]any
}

// payloadSchema is the dispatcher schema without the catalog enum, so an
// unknown tool surfaces as NotFoundError rather than a schema failure.
var payloadSchema = sync.OnceValue(func() []byte {
	params := ports.DispatcherParameters(nil)
	props := params["properties"].(map[string]any)
	delete(props["tool"].(map[string]any), "enum")
	raw, _ := json.Marshal(params)
	return raw
})

// ParseDispatch decodes what the model sent to the dispatcher function.
// Nothing is repaired: a payload that does not decode is rejected as is.
func ParseDispatch(req ports.ToolInvocationRequest, validator *JSONValidator) (Dispatch, error) {
	if req.ToolName != ports.DispatcherName {
		return Dispatch{}, &ports.NotFoundError{Name: req.ToolName}
	}

	raw := strings.TrimSpace(req.RawArguments)
	if raw == "" {
		return Dispatch{}, &ports.MalformedPayloadError{Reason: "payload is empty", Raw: req.RawArguments}
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Dispatch{}, &ports.MalformedPayloadError{Reason: "payload is not valid JSON: " + err.Error(), Raw: req.RawArguments}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return Dispatch{}, &ports.MalformedPayloadError{Reason: "payload is not a JSON object", Raw: req.RawArguments}
	}
	// null arguments mean no arguments
	if v, present := obj["arguments"]; present && v == nil {
		delete(obj, "arguments")
	}

	if validator == nil {
		validator = NewJSONValidator()
	}
	if err := validator.Validate(obj, payloadSchema()); err != nil {
		return Dispatch{}, &ports.MalformedPayloadError{Reason: err.Error(), Raw: req.RawArguments}
	}

	tool := strings.TrimSpace(obj["tool"].(string))
	if tool == "" {
		return Dispatch{}, &ports.MalformedPayloadError{Reason: "tool name is empty", Raw: req.RawArguments}
	}

	args, _ := obj["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return Dispatch{Tool: tool, Arguments: args}, nil
}

// dispatchedTool reads the tool name out of a dispatcher request without validating it.
func dispatchedTool(req *ports.ToolInvocationRequest) string {
	if req == nil {
		return ""
	}
	var payload struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal([]byte(req.RawArguments), &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Tool)
}
