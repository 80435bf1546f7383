package harness

import (
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// ErrOutOfOrder is returned when a tool result does not answer the request before it.
var ErrOutOfOrder = errors.New("tool result must directly follow the assistant request for that tool")

// History is the append-only list of model-facing turns of one session.
// It is not safe for concurrent use; the orchestrator serialises access.
type History struct {
	turns []ports.ConversationTurn
}

func NewHistory() *History {
	return &History{}
}

// Append adds turn at the end. A tool-result turn is only accepted right after
// an assistant turn whose dispatcher request named the same tool.
func (h *History) Append(turn ports.ConversationTurn) error {
	switch turn.Role {
	case ports.RoleUser, ports.RoleAssistant:
	case ports.RoleToolResult:
		if len(h.turns) == 0 {
			return ErrOutOfOrder
		}
		prev := h.turns[len(h.turns)-1]
		if prev.Role != ports.RoleAssistant || prev.Request == nil {
			return ErrOutOfOrder
		}
		if requested := dispatchedTool(prev.Request); requested != turn.ToolName {
			return fmt.Errorf("%w: requested %q, got %q", ErrOutOfOrder, requested, turn.ToolName)
		}
	default:
		return fmt.Errorf("unknown role %q", turn.Role)
	}

	if turn.Request != nil {
		req := *turn.Request
		turn.Request = &req
	}
	h.turns = append(h.turns, turn)
	return nil
}

// Turns returns a deep copy of the history; requests are cloned as well.
func (h *History) Turns() []ports.ConversationTurn {
	out := make([]ports.ConversationTurn, len(h.turns))
	for i, turn := range h.turns {
		if turn.Request != nil {
			req := *turn.Request
			turn.Request = &req
		}
		out[i] = turn
	}
	return out
}

func (h *History) Len() int { return len(h.turns) }
