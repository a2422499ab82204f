package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrelay/internal/evaluator"
	"github.com/sakif/pyrelay/internal/executor/interactive"
	"github.com/sakif/pyrelay/internal/monitor"
	"github.com/sakif/pyrelay/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOrchestrator builds the real in-process executor with a fresh registry.
func newOrchestrator(t *testing.T, timeout time.Duration) *interactive.Orchestrator {
	t.Helper()
	reg := relay.NewRegistry()
	t.Cleanup(reg.Close)
	return interactive.New(
		evaluator.New(evaluator.DefaultConfig()),
		reg,
		interactive.Config{Timeout: timeout},
		monitor.NewMetrics(),
		monitor.NewTracer(),
		testLogger(),
	)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}
