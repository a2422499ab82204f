package handler

import (
	"net/http"
	"time"
)

// Pinger is satisfied by the SQLite store.
type Pinger interface {
	Ping() error
}

// SessionCounter reports how many executions are holding a relay channel.
type SessionCounter interface {
	Active() int
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status         string `json:"status"`
	Database       bool   `json:"database"`
	Docker         bool   `json:"docker"`
	ActiveSessions int    `json:"activeSessions"`
	Uptime         string `json:"uptime"`
}

// HealthHandler reports liveness for load balancers. Docker is optional, so
// its absence never makes the server unhealthy; a database that cannot be
// reached does.
type HealthHandler struct {
	db       Pinger // nil when accounts are disabled
	sessions SessionCounter
	docker   bool
	started  time.Time
}

func NewHealthHandler(db Pinger, sessions SessionCounter, docker bool) *HealthHandler {
	return &HealthHandler{
		db:       db,
		sessions: sessions,
		docker:   docker,
		started:  time.Now(),
	}
}

// HandleHealth serves GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	dbOK := h.db == nil || h.db.Ping() == nil

	resp := HealthResponse{
		Status:         "ok",
		Database:       dbOK,
		Docker:         h.docker,
		ActiveSessions: h.sessions.Active(),
		Uptime:         time.Since(h.started).Round(time.Second).String(),
	}

	status := http.StatusOK
	if !dbOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
