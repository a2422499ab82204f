package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrelay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080, ShutdownTimeout: 5 * time.Second},
		Storage:   config.StorageConfig{DBPath: filepath.Join(t.TempDir(), "data", "test.db")},
		Auth:      config.AuthConfig{TokenTTL: time.Hour},
		Executor:  config.ExecutorConfig{Timeout: 5 * time.Second},
		Evaluator: config.EvaluatorConfig{MaxSteps: 1_000_000},
		Docker:    config.DockerConfig{Enabled: false},
		Notify:    config.NotifyConfig{QueueSize: 8},
		Log:       config.LogConfig{Level: "info", Format: "text"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServer_Operational(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"status":"ok"`)

	// Run something so the execution counters have a sample.
	post(t, ts.URL+"/execute", `{"code":"print(1)"}`)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "pyrelay_executions_total")
}

func TestServer_Execute(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp := post(t, ts.URL+"/execute", `{"code":"print(\"Hello World\")"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"output":"Hello World\n","error":null}`, readBody(t, resp))

	resp = post(t, ts.URL+"/input", `{"input":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"error","message":"No active session"}`, readBody(t, resp))
}

func TestServer_RunWithoutDocker(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp := post(t, ts.URL+"/run", `{"code":"print(1)"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Contact(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp := post(t, ts.URL+"/api/contact", `{"name":"Ada","email":"ada@example.com","message":"hi"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServer_AccountsDisabled(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, ts.URL+"/auth/login", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_AccountsEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "server-test-secret-0123456789"
	ts := newTestServer(t, cfg)

	resp := post(t, ts.URL+"/auth/register", `{"username":"ada","email":"ada@example.com","password":"password123"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, readBody(t, resp))

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/scripts", strings.NewReader(`{"title":"t","content":"print(1)"}`))
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusCreated, resp2.StatusCode)

	resp3, err := http.Get(ts.URL + "/api/scripts")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)

	// Contact stays public when accounts are on.
	resp = post(t, ts.URL+"/api/contact", `{"name":"Ada","email":"ada@example.com","message":"hi"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.RateLimit = 0.001
	cfg.Executor.RateBurst = 1
	ts := newTestServer(t, cfg)

	first := post(t, ts.URL+"/execute", `{"code":"x = 1"}`)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := post(t, ts.URL+"/execute", `{"code":"x = 1"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func postSession(t *testing.T, url, session, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", session)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_InputBypassesRateLimit(t *testing.T) {
	const lines = 25

	cfg := testConfig(t)
	cfg.Executor.RateLimit = 0.001
	cfg.Executor.RateBurst = 1
	ts := newTestServer(t, cfg)

	type outcome struct {
		status int
		body   string
	}
	finished := make(chan outcome, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/execute",
			strings.NewReader(fmt.Sprintf(`{"code":"for i in range(%d): print(input())"}`, lines)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Session-ID", "s1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			finished <- outcome{body: err.Error()}
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		finished <- outcome{status: resp.StatusCode, body: string(b)}
	}()

	// The session opens once /execute is being served.
	require.Eventually(t, func() bool {
		resp := postSession(t, ts.URL+"/input", "s1", `{"input":"v0"}`)
		return strings.Contains(readBody(t, resp), `"success"`)
	}, 2*time.Second, 5*time.Millisecond)

	var want strings.Builder
	want.WriteString("v0\n")
	for i := 1; i < lines; i++ {
		resp := postSession(t, ts.URL+"/input", "s1", fmt.Sprintf(`{"input":"v%d"}`, i))
		require.Equal(t, http.StatusOK, resp.StatusCode, "input %d", i)
		require.JSONEq(t, `{"status":"success"}`, readBody(t, resp), "input %d", i)
		fmt.Fprintf(&want, "v%d\n", i)
	}

	select {
	case got := <-finished:
		assert.Equal(t, http.StatusOK, got.status)
		assert.JSONEq(t, fmt.Sprintf(`{"output":%q,"error":null}`, want.String()), got.body)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish after all input was supplied")
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>playground</h1>"), 0o644))

	cfg := testConfig(t)
	cfg.Server.StaticDir = dir
	ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "playground")
}

func TestServer_BadStaticDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.StaticDir = filepath.Join(t.TempDir(), "missing")

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestServer_StartStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0

	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	s.Close() // second Close is a no-op
}
