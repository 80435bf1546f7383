package harness

import (
	"errors"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/google/uuid"
)

// ErrUnknownMessage is returned when no display message has the given id.
var ErrUnknownMessage = errors.New("unknown display message")

// Board keeps the display messages of a session in order. Messages are
// updated by id only, never by position.
type Board struct {
	messages []ports.DisplayMessage
	index    map[string]int
	now      func() time.Time
}

func NewBoard() *Board {
	return &Board{index: make(map[string]int), now: time.Now}
}

// Add appends a message and returns it with its new id.
func (b *Board) Add(sender ports.Sender, content string, pending bool) ports.DisplayMessage {
	msg := ports.DisplayMessage{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    sender,
		Timestamp: b.now(),
		IsPending: pending,
	}
	b.index[msg.ID] = len(b.messages)
	b.messages = append(b.messages, msg)
	return msg
}

// Resolve replaces the content of message id and clears its pending flag.
func (b *Board) Resolve(id, content string) (ports.DisplayMessage, error) {
	return b.update(id, func(m *ports.DisplayMessage) {
		m.Content = content
		m.IsPending = false
		m.ErrorDetail = ""
	})
}

// Fail marks message id as errored with detail as its visible text.
func (b *Board) Fail(id, detail string) (ports.DisplayMessage, error) {
	return b.update(id, func(m *ports.DisplayMessage) {
		m.Content = detail
		m.IsPending = false
		m.ErrorDetail = detail
	})
}

func (b *Board) Get(id string) (ports.DisplayMessage, bool) {
	i, ok := b.index[id]
	if !ok {
		return ports.DisplayMessage{}, false
	}
	return b.messages[i], true
}

// Messages returns a copy of the board in display order.
func (b *Board) Messages() []ports.DisplayMessage {
	out := make([]ports.DisplayMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *Board) update(id string, fn func(*ports.DisplayMessage)) (ports.DisplayMessage, error) {
	i, ok := b.index[id]
	if !ok {
		return ports.DisplayMessage{}, ErrUnknownMessage
	}
	fn(&b.messages[i])
	return b.messages[i], nil
}
