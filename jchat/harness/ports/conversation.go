package harnessports

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
)

// ConversationTurn is one entry of the model-facing history.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolName is set only on tool-result turns.
	ToolName string `json:"tool_name,omitempty"`
	// Request is set on assistant turns that asked for a tool.
	Request *ToolInvocationRequest `json:"request,omitempty"`
}

// ToolInvocationRequest is what the model emitted as a function call.
// RawArguments stays encoded until the orchestrator parses it.
type ToolInvocationRequest struct {
	ToolName     string `json:"tool_name"`
	RawArguments string `json:"raw_arguments"`
}

// TurnReply is the outcome of offering tools to the model.
type TurnReply struct {
	Content     string
	ToolRequest *ToolInvocationRequest
}

// Sender identifies the side of the chat a display message belongs to.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// DisplayMessage is the UI projection of a turn. It is addressed by ID only.
type DisplayMessage struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Sender      Sender    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
	IsPending   bool      `json:"is_pending"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// Errored reports whether the message ended with an error.
func (m DisplayMessage) Errored() bool { return m.ErrorDetail != "" }
