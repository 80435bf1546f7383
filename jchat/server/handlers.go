package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ZanzyTHEbar/journey-chat/jchat/harness"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	SessionID string               `json:"session_id"`
	User      ports.DisplayMessage `json:"user"`
	Reply     ports.DisplayMessage `json:"reply"`
	Tool      string               `json:"tool,omitempty"`
	State     string               `json:"state"`
	ErrorKind string               `json:"error_kind,omitempty"`
}

type ErrorResponse struct {
	Error    string   `json:"error"`
	Kind     string   `json:"kind,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ErrorResponse{Error: "invalid request body"}, http.StatusBadRequest)
		return
	}

	res, err := s.session.Submit(r.Context(), req.Message)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	// a failed turn is still a completed request; the errored reply carries the detail
	s.writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: s.session.SessionID(),
		User:      res.User,
		Reply:     res.Final,
		Tool:      res.Tool,
		State:     res.State.String(),
		ErrorKind: ports.Kind(res.Err),
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var cfgErr *ports.ConfigurationError
	switch {
	case errors.Is(err, harness.ErrBusy):
		s.writeError(w, ErrorResponse{Error: err.Error()}, http.StatusConflict)
	case errors.Is(err, harness.ErrEmptyMessage):
		s.writeError(w, ErrorResponse{Error: "message is required"}, http.StatusBadRequest)
	case errors.As(err, &cfgErr):
		s.writeError(w, ErrorResponse{Error: ports.Summarize(err), Kind: ports.Kind(err), Problems: cfgErr.Problems}, http.StatusServiceUnavailable)
	default:
		s.logger.Error().Err(err).Msg("chat error")
		s.writeError(w, ErrorResponse{Error: err.Error(), Kind: ports.Kind(err)}, http.StatusInternalServerError)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.session.Messages()
	if msgs == nil {
		msgs = []ports.DisplayMessage{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.session.SessionID(),
		"messages":   msgs,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Blocked(); err != nil {
		s.writeSubmitError(w, err)
		return
	}
	names := s.session.Catalog()
	if names == nil {
		var err error
		if names, err = s.session.RefreshCatalog(r.Context()); err != nil {
			s.writeCatalogError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": names})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Blocked(); err != nil {
		s.writeSubmitError(w, err)
		return
	}
	names, err := s.session.RefreshCatalog(r.Context())
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": names})
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, harness.ErrBusy) {
		s.writeError(w, ErrorResponse{Error: err.Error()}, http.StatusConflict)
		return
	}
	s.logger.Warn().Err(err).Msg("catalog refresh failed")
	s.writeError(w, ErrorResponse{Error: ports.Summarize(err), Kind: ports.Kind(err)}, http.StatusBadGateway)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.session.Blocked() != nil {
		status = "unconfigured"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"busy":       s.session.Busy(),
		"session_id": s.session.SessionID(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, body ErrorResponse, status int) {
	s.writeJSON(w, status, body)
}
