package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/pyrelay/internal/auth"
	"github.com/sakif/pyrelay/internal/executor"
	"github.com/sakif/pyrelay/internal/relay"
)

// SessionHeader names the header that ties an /input call to the /execute
// call it feeds.
const SessionHeader = "X-Session-ID"

// ExecuteHandler serves the interactive pair /execute and /input.
//
// The two requests meet in the relay registry: /execute blocks while the
// program waits in input(), and /input for the same session ID unblocks it.
// The HTTP server must therefore not impose a short WriteTimeout.
type ExecuteHandler struct {
	exec   executor.Interactive
	logger *slog.Logger
}

func NewExecuteHandler(exec executor.Interactive, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		logger: logger,
	}
}

type inputRequest struct {
	Input string `json:"input"`
}

// InputResponse is the body of POST /input.
type InputResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleExecute runs a program to completion.
//
// HTTP: POST /execute   {"code": "..."}   X-Session-ID: s1
//
// The response is always 200 with {output, error} once the program reaches
// a terminal state; a fault in the program is reported in "error". Only a
// malformed body (400) or a failure of the executor itself (500) produce the
// error envelope. Missing or empty code runs as an empty program.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executor.ExecutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.SessionID = sessionID(r)

	attrs := []any{slog.String("session", req.SessionID), slog.Int("codeBytes", len(req.Code))}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		attrs = append(attrs, slog.String("user", userID))
	}
	h.logger.Debug("execute requested", attrs...)

	result, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		h.logger.Error("execution failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleInput delivers one line to the program waiting under the session.
//
// HTTP: POST /input   {"input": "bob"}   X-Session-ID: s1
//
// It never blocks: with no active session the reply is immediate. Both
// outcomes are 200 so clients branch on "status".
func (h *ExecuteHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := h.exec.SupplyInput(sessionID(r), req.Input)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, InputResponse{Status: "success"})
	case errors.Is(err, relay.ErrNoActiveSession):
		writeJSON(w, http.StatusOK, InputResponse{Status: "error", Message: relay.ErrNoActiveSession.Error()})
	default:
		h.logger.Error("supplying input failed", slog.String("error", err.Error()))
		writeError(w, err)
	}
}

func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return executor.DefaultSessionID
}
