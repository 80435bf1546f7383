package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/journey-chat/jchat/harness"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/ZanzyTHEbar/journey-chat/jchat/toolhost"
)

// fakeSession scripts Submit and catalog results.
type fakeSession struct {
	submitErr  error
	result     *harness.TurnResult
	catalog    []string
	refreshErr error
	blocked    error
	busy       bool
	messages   []ports.DisplayMessage
}

func (s *fakeSession) Submit(context.Context, string) (*harness.TurnResult, error) {
	return s.result, s.submitErr
}

func (s *fakeSession) RefreshCatalog(context.Context) ([]string, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return []string{"list_journeys"}, nil
}

func (s *fakeSession) Catalog() []string                { return s.catalog }
func (s *fakeSession) Messages() []ports.DisplayMessage { return s.messages }
func (s *fakeSession) Busy() bool                       { return s.busy }
func (s *fakeSession) Blocked() error                   { return s.blocked }
func (s *fakeSession) SessionID() string                { return "session-1" }

var _ Session = (*fakeSession)(nil)
var _ Session = (*harness.Orchestrator)(nil)

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func handler(s Session) http.Handler {
	return NewServer(s, 0, zerolog.Nop()).Handler()
}

func TestChat_BusyIsConflict(t *testing.T) {
	rec, body := do(t, handler(&fakeSession{submitErr: harness.ErrBusy}), http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, harness.ErrBusy.Error(), body["error"])
}

func TestChat_EmptyMessageIsBadRequest(t *testing.T) {
	rec, _ := do(t, handler(&fakeSession{submitErr: harness.ErrEmptyMessage}), http.MethodPost, "/api/v1/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, handler(&fakeSession{}), http.MethodPost, "/api/v1/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestChat_ConfigurationErrorIsUnavailable(t *testing.T) {
	cfgErr := &ports.ConfigurationError{Problems: []string{"llm.api_key is not set"}}
	rec, body := do(t, handler(&fakeSession{submitErr: cfgErr}), http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "configuration", body["kind"])
	assert.Equal(t, []any{"llm.api_key is not set"}, body["problems"])
}

func TestChat_ErroredTurnIsStillOK(t *testing.T) {
	session := &fakeSession{result: &harness.TurnResult{
		Final: ports.DisplayMessage{ID: "b", Sender: ports.SenderBot, ErrorDetail: "bad"},
		State: harness.StateErrored,
		Err:   &ports.RpcError{Code: -32000, Message: "bad"},
	}}
	rec, body := do(t, handler(session), http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "errored", body["state"])
	assert.Equal(t, "rpc", body["error_kind"])
	assert.Equal(t, "bad", body["reply"].(map[string]any)["error_detail"])
}

func TestTools_LoadsCatalogOnDemand(t *testing.T) {
	rec, body := do(t, handler(&fakeSession{}), http.MethodGet, "/api/v1/tools", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"list_journeys"}, body["tools"])

	rec, body = do(t, handler(&fakeSession{refreshErr: &ports.TransportError{Op: "tools/list", Err: errors.New("refused")}}), http.MethodPost, "/api/v1/tools/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "transport", body["kind"])
}

func TestRefresh_DuringTurnIsConflict(t *testing.T) {
	rec, body := do(t, handler(&fakeSession{refreshErr: harness.ErrBusy}), http.MethodPost, "/api/v1/tools/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, harness.ErrBusy.Error(), body["error"])
}

func TestHealth(t *testing.T) {
	rec, body := do(t, handler(&fakeSession{busy: true}), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["busy"])

	_, body = do(t, handler(&fakeSession{blocked: &ports.ConfigurationError{Problems: []string{"x"}}}), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, "unconfigured", body["status"])
}

// scriptedModel asks for list_journeys once and then answers from the tool result.
type scriptedModel struct{}

func (scriptedModel) RequestTurn(_ context.Context, _ []ports.ConversationTurn, catalog []string) (ports.TurnReply, error) {
	if len(catalog) == 0 {
		return ports.TurnReply{Content: "no tools"}, nil
	}
	return ports.TurnReply{ToolRequest: &ports.ToolInvocationRequest{
		ToolName:     ports.DispatcherName,
		RawArguments: `{"tool":"list_journeys","arguments":{}}`,
	}}, nil
}

func (scriptedModel) RequestFinalAnswer(_ context.Context, history []ports.ConversationTurn) (string, error) {
	return "Your journeys: " + history[len(history)-1].Content, nil
}

func TestChat_EndToEndWithToolHost(t *testing.T) {
	host := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		result := map[string]any{}
		switch req.Method {
		case toolhost.MethodListTools:
			result["tools"] = []map[string]any{{"name": "list_journeys", "description": "List journeys", "inputSchema": map[string]any{"type": "object"}}}
		case toolhost.MethodCallTool:
			result["content"] = []map[string]any{{"type": "text", "text": "Journey A"}, {"type": "text", "text": "Journey B"}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer host.Close()

	orch := harness.NewOrchestrator(scriptedModel{}, toolhost.NewClient(host.URL, "/mcp"))
	h := handler(orch)

	rec, body := do(t, h, http.MethodPost, "/api/v1/chat", `{"message":"list my journeys"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "list_journeys", body["tool"])
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "Your journeys: Journey A\nJourney B", body["reply"].(map[string]any)["content"])

	_, body = do(t, h, http.MethodGet, "/api/v1/messages", "")
	assert.Len(t, body["messages"], 2)

	_, body = do(t, h, http.MethodGet, "/api/v1/tools", "")
	assert.Equal(t, []any{"list_journeys"}, body["tools"])
}
