package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/martinemde/repoagent/agentloop"
	"github.com/martinemde/repoagent/unifiedllm"
)

// maxTaskBody bounds a task submission; project context and prompt
// sections travel inline.
const maxTaskBody = 4 << 20

type submitResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var task agentloop.TaskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTaskBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&task); err != nil {
		s.writeError(w, r, unifiedllm.NewConfigurationError("invalid task body: %v", err))
		return
	}

	id, err := s.runner.Submit(r.Context(), task)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "task submitted", "session_id", id, "repo_id", task.RepoID)
	w.Header().Set("Location", "/v1/sessions/"+id)
	writeJSON(w, http.StatusAccepted, submitResponse{SessionID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, unifiedllm.NewConfigurationError("invalid limit %q", v))
			return
		}
		limit = n
	}
	sessions, err := s.runner.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.runner.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Abort(r.Context(), id); err != nil {
		s.writeError(w, r, fmt.Errorf("abort: %w", err))
		return
	}
	s.logger.InfoContext(r.Context(), "abort requested", "session_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "abort_requested"})
}
