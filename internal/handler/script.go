package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/auth"
	"github.com/sakif/pyrelay/internal/service"
)

// ScriptHandler serves /api/scripts. All routes sit behind RequireAuth; the
// user ID from the context scopes every call.
type ScriptHandler struct {
	service *service.ScriptService
	logger  *slog.Logger
}

func NewScriptHandler(svc *service.ScriptService, logger *slog.Logger) *ScriptHandler {
	return &ScriptHandler{
		service: svc,
		logger:  logger,
	}
}

type scriptRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// HandleList returns the caller's scripts, newest first.
//
// HTTP: GET /api/scripts?limit=20&offset=40
func (h *ScriptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	scripts, err := h.service.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.logger.Error("listing scripts", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scripts)
}

// HandleGet returns one script.
//
// HTTP: GET /api/scripts/{id}
func (h *ScriptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	script, err := h.service.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

// HandleCreate saves a new script.
//
// HTTP: POST /api/scripts   {"title": "...", "content": "..."}   → 201
func (h *ScriptHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req scriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	script, err := h.service.Create(r.Context(), ownerID, req.Title, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, script)
}

// HandleUpdate replaces a script's title and content.
//
// HTTP: PUT /api/scripts/{id}   {"title": "...", "content": "..."}
func (h *ScriptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req scriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	script, err := h.service.Update(r.Context(), ownerID, chi.URLParam(r, "id"), req.Title, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

// HandleDelete removes a script.
//
// HTTP: DELETE /api/scripts/{id}   → 204
func (h *ScriptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireUser reads the user ID set by auth.RequireAuth. The middleware
// guarantees it on protected routes; the 401 covers misconfigured routing.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return "", false
	}
	return userID, true
}
