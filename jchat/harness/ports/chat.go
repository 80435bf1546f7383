package harnessports

import "context"

// ChatModel is the abstraction over the chat completion provider.
type ChatModel interface {
	// RequestTurn offers the dispatcher function restricted to catalog.
	RequestTurn(ctx context.Context, history []ConversationTurn, catalog []string) (TurnReply, error)
	// RequestFinalAnswer offers no functions and expects plain text.
	RequestFinalAnswer(ctx context.Context, history []ConversationTurn) (string, error)
}
