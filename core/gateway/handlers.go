package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cordum/oncebox/core/infra/logging"
	"github.com/cordum/oncebox/core/infra/takeonce"
	"github.com/cordum/oncebox/core/message"
)

const (
	errNotFound       = "not_found_or_already_read"
	errInternal       = "internal"
	errTooLarge       = "payload too large"
	errUnreadableBody = "invalid request body"
)

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	OK     bool   `json:"ok"`
	Events string `json:"events,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.Warn("gateway", "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthBody{OK: false})
			return
		}
	}
	body := healthBody{OK: true}
	if s.events != nil {
		// Event delivery is best-effort, so a disconnected bus is reported
		// but does not fail the check.
		body.Events = s.events.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errUnreadableBody)
		return
	}

	req, err := message.ParseCreateRequest(body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	// Every answer on this route is tied to a one-time capability.
	w.Header().Set("Cache-Control", "no-store")
	// GET patterns also match HEAD, which would consume the message without
	// delivering a body.
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.PathValue("id")
	token := r.URL.Query().Get("token")
	env, err := s.svc.Retrieve(r.Context(), id, token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// writeServiceError maps service outcomes onto status codes. Backend detail
// stays in the log; the client only sees "internal".
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var inErr *message.InputError
	var attemptErr *takeonce.AttemptError
	switch {
	case errors.As(err, &inErr):
		writeError(w, http.StatusBadRequest, inErr.Msg)
	case errors.Is(err, message.ErrNotFound):
		writeError(w, http.StatusNotFound, errNotFound)
	case errors.As(err, &attemptErr):
		logging.Error("gateway", "take failed",
			"request_id", requestIDFrom(r.Context()),
			"class", attemptErr.Class.String(),
			"mode", string(attemptErr.Mode),
			"indeterminate", errors.Is(err, takeonce.ErrIndeterminate),
			"error", attemptErr.Err,
		)
		writeError(w, http.StatusInternalServerError, errInternal)
	default:
		logging.Error("gateway", "request failed", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("gateway", "encode response failed", "error", err)
	}
}
