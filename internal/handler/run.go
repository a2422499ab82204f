package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/executor"
)

// noCodeMessage is returned by /run for a missing or blank program.
const noCodeMessage = "no code to execute"

// RunHandler serves the batch endpoint backed by a container runner.
type RunHandler struct {
	runner executor.Runner // nil when Docker is unavailable
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler. runner may be nil, in which case every
// request gets 503.
func NewRunHandler(runner executor.Runner, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runner: runner,
		logger: logger,
	}
}

type runRequest struct {
	Code string `json:"code"`
}

// RunResponse is the body of POST /run. Exactly one field is set.
type RunResponse struct {
	Output *string `json:"output,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// HandleRun executes code as a separate process with stdout and stderr
// combined.
//
// HTTP: POST /run   {"code": "..."}
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, apperror.Unavailable("batch execution is not available: docker is not reachable"))
		return
	}

	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusOK, RunResponse{Error: executor.StringPtr(noCodeMessage)})
		return
	}

	res, err := h.runner.Run(r.Context(), req.Code)
	if err != nil {
		h.logger.Error("batch run failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{Output: executor.StringPtr(res.Output)})
}
