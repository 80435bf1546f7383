package harnessports

import (
	"context"
	"encoding/json"
	"strings"
)

// ParamSpec describes one declared tool parameter.
type ParamSpec struct {
	Type        string
	Nullable    bool // declared as [type, "null"]
	Description string
	Required    bool
	HasDefault  bool
	Default     any
	Minimum     *float64
	Maximum     *float64
	Enum        []any
}

// ToolSchema is a tool as advertised by the tool host. Treat it as read-only.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Required    []string
	Raw         json.RawMessage
}

// ContentBlock is one typed entry of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResultKind tags which shape a ToolResult carries.
type ResultKind int

const (
	ResultOpaque ResultKind = iota
	ResultContentBlocks
)

// ToolResult is either the well-known content blocks shape or an opaque payload.
type ToolResult struct {
	Kind    ResultKind
	Blocks  []ContentBlock
	Raw     json.RawMessage
	IsError bool
}

// Text renders the result for the conversation history.
func (r ToolResult) Text() string {
	if r.Kind == ResultContentBlocks {
		parts := make([]string, 0, len(r.Blocks))
		for _, b := range r.Blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	if len(r.Raw) == 0 {
		return "null"
	}
	return string(r.Raw)
}

// ToolHost is the abstraction over the JSON-RPC tool server.
type ToolHost interface {
	ListTools(ctx context.Context) ([]ToolSchema, error)
	GetToolSchema(ctx context.Context, name string) (ToolSchema, error)
	Invoke(ctx context.Context, name string, args map[string]any) (ToolResult, error)
	ResolveAndInvoke(ctx context.Context, name string, args map[string]any) (ToolResult, error)
	Refresh(ctx context.Context) ([]ToolSchema, error)
}
