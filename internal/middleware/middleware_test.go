package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrelay/internal/monitor"
	"github.com/sakif/pyrelay/internal/notify"
)

var teapot = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("short and stout"))
})

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rr := httptest.NewRecorder()
	Logger(logger)(teapot).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/scripts", nil))

	line := buf.String()
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Contains(t, line, "method=GET")
	assert.Contains(t, line, "path=/api/scripts")
	assert.Contains(t, line, "status=418")
	assert.Contains(t, line, "bytes=15")
}

func TestLogger_KeepsHijacker(t *testing.T) {
	var hijackable bool
	h := Logger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hijackable = w.(http.Hijacker)
		}),
	)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, hijackable, "wrapped writer must still implement http.Hijacker")
}

type collectSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collectSink) Notify(_ context.Context, m string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func TestTrackVisits(t *testing.T) {
	sink := &collectSink{}
	dispatcher := notify.NewAsync(sink, 10, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	h := TrackVisits(dispatcher)(teapot)

	for _, path := range []string{"/", "/static/app.js", "/metrics", "/execute"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("User-Agent", "curl/8")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	dispatcher.Close()

	require.Len(t, sink.msgs, 2)
	assert.Contains(t, sink.msgs[0], "Path: /\n")
	assert.Contains(t, sink.msgs[0], "IP: 203.0.113.9\n")
	assert.Contains(t, sink.msgs[0], "User Agent: curl/8")
	assert.Contains(t, sink.msgs[1], "Path: /execute")
}

func TestTrackVisits_NilDispatcher(t *testing.T) {
	rr := httptest.NewRecorder()
	TrackVisits(nil)(teapot).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := monitor.NewMetrics()
	h := RateLimit(ctx, "execute", 0.001, 2, m)(teapot)

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/execute", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusTeapot, do("198.51.100.1:1000").Code)
	assert.Equal(t, http.StatusTeapot, do("198.51.100.1:1001").Code)

	limited := do("198.51.100.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.True(t, strings.Contains(limited.Body.String(), "rate_limited"))

	// A different client has its own bucket.
	assert.Equal(t, http.StatusTeapot, do("198.51.100.2:1000").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Throttled.WithLabelValues("execute")))
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(context.Background(), "x", 0, 0, nil)(teapot)
	for i := 0; i < 20; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	}
}
