package presenter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/journey-chat/jchat/harness"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// fakeSession answers every submission with a canned bot message.
type fakeSession struct {
	blocked   error
	catalog   []string
	history   []ports.ConversationTurn
	submitted []string
	refreshes int
	resets    int
	observers []func(ports.DisplayMessage)
	reply     func(text string) ports.DisplayMessage
}

func (s *fakeSession) Submit(_ context.Context, text string) (*harness.TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, harness.ErrEmptyMessage
	}
	s.submitted = append(s.submitted, text)
	user := ports.DisplayMessage{ID: "u", Sender: ports.SenderUser, Content: text}
	final := ports.DisplayMessage{ID: "b", Sender: ports.SenderBot, Content: "ok"}
	if s.reply != nil {
		final = s.reply(text)
	}
	for _, fn := range s.observers {
		fn(user)
		fn(final)
	}
	s.history = append(s.history,
		ports.ConversationTurn{Role: ports.RoleUser, Content: text},
		ports.ConversationTurn{Role: ports.RoleAssistant, Content: final.Content})
	return &harness.TurnResult{User: user, Final: final}, nil
}

func (s *fakeSession) RefreshCatalog(context.Context) ([]string, error) {
	s.refreshes++
	if s.catalog == nil {
		return nil, &ports.TransportError{Op: "tools/list", Err: errors.New("connection refused")}
	}
	return s.catalog, nil
}

func (s *fakeSession) Catalog() []string                 { return s.catalog }
func (s *fakeSession) History() []ports.ConversationTurn { return s.history }
func (s *fakeSession) Reset() error                      { s.resets++; s.history = nil; return nil }
func (s *fakeSession) Blocked() error                    { return s.blocked }
func (s *fakeSession) OnMessage(fn func(ports.DisplayMessage)) {
	s.observers = append(s.observers, fn)
}

var _ Session = (*fakeSession)(nil)

func runREPL(t *testing.T, session *fakeSession, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	repl := NewREPL(session, strings.NewReader(input), &out, zerolog.Nop())
	err := repl.Run(context.Background())
	return out.String(), err
}

func TestREPL_ResolveCommandPrefixes(t *testing.T) {
	repl := NewREPL(&fakeSession{}, strings.NewReader(""), &bytes.Buffer{}, zerolog.Nop())

	cases := map[string]string{
		"/tools":      "/tools",
		"/t":          "/tools",
		"/TO":         "/tools",
		"/ref":        "/refresh",
		"/res":        "/reset",
		"/hi":         "/history",
		"/q":          "/quit",
		"/exit":       "/quit",
		"/help me":    "/help",
		"/he":         "/help",
		"/history 10": "/history",
	}
	for input, want := range cases {
		got, err := repl.Resolve(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := repl.Resolve("/r")
	assert.ErrorIs(t, err, ErrAmbiguousCommand)
	assert.Contains(t, err.Error(), "/refresh, /reset")

	_, err = repl.Resolve("/h")
	assert.ErrorIs(t, err, ErrAmbiguousCommand)

	_, err = repl.Resolve("/deploy")
	assert.ErrorContains(t, err, "unknown command /deploy")
}

func TestREPL_ChatsAndQuits(t *testing.T) {
	session := &fakeSession{
		catalog: []string{"list_journeys", "get_email_reports"},
		reply: func(string) ports.DisplayMessage {
			return ports.DisplayMessage{ID: "b", Sender: ports.SenderBot, Content: "You have 2 journeys."}
		},
	}

	out, err := runREPL(t, session, "How many journeys?\n\n   \n/tools\n/quit\nnever sent\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"How many journeys?"}, session.submitted)
	assert.Contains(t, out, "Journey Chat")
	assert.Contains(t, out, "Assistant: You have 2 journeys.")
	assert.NotContains(t, out, "You: How many journeys?", "typed lines are not echoed")
	assert.Contains(t, out, "Available tools (2)")
	assert.Contains(t, out, "list_journeys")
	assert.Contains(t, out, "Goodbye!")
}

func TestREPL_ShowsErroredTurns(t *testing.T) {
	session := &fakeSession{
		reply: func(string) ports.DisplayMessage {
			return ports.DisplayMessage{ID: "b", Sender: ports.SenderBot, ErrorDetail: "The tool host reported an error (-32000): backend down"}
		},
	}

	out, err := runREPL(t, session, "list journeys\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Error: The tool host reported an error (-32000): backend down")
}

func TestREPL_CommandFailuresDoNotEndSession(t *testing.T) {
	session := &fakeSession{}

	out, err := runREPL(t, session, "/refresh\n/r\n/reset\n/history\n")
	require.NoError(t, err)
	assert.Equal(t, 1, session.refreshes)
	assert.Equal(t, 1, session.resets)
	assert.Contains(t, out, "Could not reach the service during tools/list")
	assert.Contains(t, out, "ambiguous command /r")
	assert.Contains(t, out, "Conversation cleared.")
	assert.Contains(t, out, "History is empty.")
}

func TestREPL_BlockedSessionShowsStaticNotice(t *testing.T) {
	cfgErr := &ports.ConfigurationError{Problems: []string{"llm.api_key is not set", "toolhost.url still holds a placeholder value"}}
	session := &fakeSession{blocked: cfgErr}

	out, err := runREPL(t, session, "hello\n")
	assert.Equal(t, cfgErr, err)
	assert.Empty(t, session.submitted)
	assert.Contains(t, out, "Journey Chat is not configured.")
	assert.Contains(t, out, "  - llm.api_key is not set")
	assert.Contains(t, out, "  - toolhost.url still holds a placeholder value")
}

func TestRenderer_Message(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{})

	assert.Equal(t, "You: hi", r.Message(ports.DisplayMessage{Sender: ports.SenderUser, Content: "hi"}))
	assert.Equal(t, "Assistant: hello", r.Message(ports.DisplayMessage{Sender: ports.SenderBot, Content: "hello"}))
	assert.Equal(t, "Assistant: consulting the analytics tools...", r.Message(ports.DisplayMessage{Sender: ports.SenderBot, IsPending: true}))
	assert.Equal(t, "Error: boom", r.Message(ports.DisplayMessage{Sender: ports.SenderBot, ErrorDetail: "boom"}))
}

func TestRenderer_History(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{})
	out := r.History([]ports.ConversationTurn{
		{Role: ports.RoleUser, Content: "list journeys"},
		{Role: ports.RoleAssistant, Request: &ports.ToolInvocationRequest{ToolName: ports.DispatcherName, RawArguments: `{"tool":"list_journeys"}`}},
		{Role: ports.RoleToolResult, ToolName: "list_journeys", Content: "Journey A"},
	})

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, ` 1 [user] list journeys`, lines[0])
	assert.Equal(t, ` 2 [assistant -> mcp_invoke] {"tool":"list_journeys"}`, lines[1])
	assert.Equal(t, ` 3 [tool-result list_journeys] Journey A`, lines[2])
}
