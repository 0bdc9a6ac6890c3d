package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-dev/atelier/internal/supervisor"
	"github.com/atelier-dev/atelier/pkg/types"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.tree.ListSessions()),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tree.ListSessions())
}

type createSessionRequest struct {
	Name        string              `json:"name,omitempty"`
	ProjectPath string              `json:"projectPath"`
	Config      types.SessionConfig `json:"config"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectPath is required")
		return
	}

	// Sessions created over the API inherit the server's merged settings
	// unless the request carries its own.
	cfg := req.Config
	if cfg.Permission == nil && s.appConfig != nil {
		cfg = s.appConfig.SessionConfigFrom()
		if req.Config.Model != "" {
			cfg.Model = req.Config.Model
		}
	}

	session, err := s.tree.CreateSession(supervisor.CreateOptions{
		Name:        req.Name,
		ProjectPath: req.ProjectPath,
		Config:      cfg,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.tree.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type updateSessionRequest struct {
	Name   string               `json:"name,omitempty"`
	Config *types.SessionConfig `json:"config,omitempty"`
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Name == "" && req.Config == nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name or config is required")
		return
	}

	id := chi.URLParam(r, "sessionID")
	var session *types.Session
	var err error
	if req.Config != nil {
		if session, err = s.tree.UpdateConfig(id, *req.Config); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.Name != "" {
		if session, err = s.tree.Rename(id, req.Name); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tree.StopSession(chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tree.RestartSession(chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restarted": true})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	st, err := s.tree.StateFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := st.GetState()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	st, err := s.tree.StateFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	msgs, err := st.GetMessages()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Role == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "role and content are required")
		return
	}
	st, err := s.tree.StateFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	msg, err := st.AppendMessage(req.Role, req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) getTodos(w http.ResponseWriter, r *http.Request) {
	st, err := s.tree.StateFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	todos, err := st.GetTodos()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	var call types.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if call.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}

	result, err := s.exec.Execute(r.Context(), chi.URLParam(r, "sessionID"), call)
	if err != nil && result == nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type shellRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds
}

func (s *Server) runShell(w http.ResponseWriter, r *http.Request) {
	var req shellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	mgr, err := s.tree.ManagerFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := mgr.Shell(r.Context(), req.Command, time.Duration(req.Timeout)*time.Millisecond)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"output":   res.Output,
		"exit":     res.ExitCode,
		"timedOut": res.TimedOut,
	})
}

type scriptRequest struct {
	Source  string `json:"source"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds
}

func (s *Server) runScript(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	mgr, err := s.tree.ManagerFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := mgr.RunScript(r.Context(), req.Source, time.Duration(req.Timeout)*time.Millisecond)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"output": out, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": out})
}
