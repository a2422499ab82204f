package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/notify"
)

// maxContactMessage bounds the free-text field of the contact form.
const maxContactMessage = 5000

// ContactHandler forwards contact form submissions to the operator.
type ContactHandler struct {
	dispatcher *notify.Async
	logger     *slog.Logger
}

func NewContactHandler(dispatcher *notify.Async, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// HandleContact accepts a submission and queues it for delivery.
//
// HTTP: POST /api/contact   {"name","email","message"}   → 202 {"status":"sent"}
//
// Delivery happens in the background; a webhook failure is logged and does
// not change the response.
func (h *ContactHandler) HandleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	message := strings.TrimSpace(req.Message)

	switch {
	case name == "" || email == "" || message == "":
		writeError(w, apperror.ValidationFailed("", "please fill in all fields"))
		return
	case len(message) > maxContactMessage:
		writeError(w, apperror.ValidationFailed("message", "message is too long"))
		return
	}

	if h.dispatcher != nil && !h.dispatcher.Send(notify.ContactMessage(name, email, message)) {
		h.logger.Warn("contact message dropped", slog.String("email", email))
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
