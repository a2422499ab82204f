package handler_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/pyrelay/internal/handler"
	"github.com/sakif/pyrelay/internal/relay"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping() error { return p.err }

func TestHandleHealth(t *testing.T) {
	reg := relay.NewRegistry()
	defer reg.Close()
	reg.Open("s1")

	t.Run("ok", func(t *testing.T) {
		h := handler.NewHealthHandler(stubPinger{}, reg, false)
		rr := serve(h.HandleHealth, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		body := decode[handler.HealthResponse](t, rr)
		assert.Equal(t, "ok", body.Status)
		assert.False(t, body.Docker)
		assert.Equal(t, 1, body.ActiveSessions)
	})

	t.Run("no database configured", func(t *testing.T) {
		h := handler.NewHealthHandler(nil, reg, true)
		rr := serve(h.HandleHealth, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("database down", func(t *testing.T) {
		h := handler.NewHealthHandler(stubPinger{err: errors.New("closed")}, reg, true)
		rr := serve(h.HandleHealth, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "degraded", decode[handler.HealthResponse](t, rr).Status)
	})
}
