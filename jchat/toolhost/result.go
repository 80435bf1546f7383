package toolhost

import (
	"bytes"
	"encoding/json"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// ParseResult classifies a tools/call result. Objects with a decodable "content"
// list become content blocks; anything else is kept opaque.
func ParseResult(raw json.RawMessage) ports.ToolResult {
	compact := compactJSON(raw)

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ports.ToolResult{Kind: ports.ResultOpaque, Raw: compact}
	}

	var isError bool
	if flag, ok := envelope["isError"]; ok {
		_ = json.Unmarshal(flag, &isError)
	}

	content, ok := envelope["content"]
	if !ok {
		return ports.ToolResult{Kind: ports.ResultOpaque, Raw: compact, IsError: isError}
	}
	var blocks []ports.ContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil || blocks == nil {
		return ports.ToolResult{Kind: ports.ResultOpaque, Raw: compact, IsError: isError}
	}

	return ports.ToolResult{
		Kind:    ports.ResultContentBlocks,
		Blocks:  blocks,
		Raw:     compact,
		IsError: isError,
	}
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
