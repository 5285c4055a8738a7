package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/petal-labs/toolmount/execution"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListModules returns every importable module.
func (s *Server) handleListModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.modules.All())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	if s.runtime == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "runtime not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Diagnostics())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.runtime == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "runtime not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.ObservabilitySnapshot())
}

func (s *Server) handleLastError(w http.ResponseWriter, _ *http.Request) {
	if s.runtime == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "runtime not configured")
		return
	}
	last := s.runtime.LastError()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

type executeRequest struct {
	Action any `json:"action"`
	Input  any `json:"input"`
}

// handleExecute runs an action on an execution-only tool. The result
// envelope is always returned; the status code reflects its reason.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "runtime not configured")
		return
	}
	toolID := strings.TrimSpace(r.PathValue("tool"))

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	res := s.runtime.Bridge().Execute(r.Context(), toolID, req.Action, req.Input)
	status := http.StatusOK
	switch res.Reason {
	case execution.ReasonMissingTool:
		status = http.StatusNotFound
	case execution.ReasonUnsupportedAction:
		status = http.StatusBadRequest
	case execution.ReasonToolExecutionFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// handleHistory returns stored events for a tool as JSON.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.eventStore == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "event store not configured")
		return
	}
	after, err := queryUint(r, "after")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "after: "+err.Error())
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit: "+err.Error())
		return
	}

	events, err := s.eventStore.List(r.Context(), r.PathValue("tool"), after, int(limit))
	if err != nil {
		s.logger.Error("server: list events", "tool", r.PathValue("tool"), "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func queryUint(r *http.Request, key string) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// isMaxBytesError checks if the error is from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
