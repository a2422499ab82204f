package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrelay/internal/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingServer captures the "content" field of each webhook post.
type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	contents []string
}

func newRecordingServer(t *testing.T, status int) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p webhookPayload
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&p)) {
			rs.mu.Lock()
			rs.contents = append(rs.contents, p.Content)
			rs.mu.Unlock()
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) received() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.contents...)
}

func TestWebhook_Posts(t *testing.T) {
	srv := newRecordingServer(t, http.StatusNoContent)
	wh := NewWebhook(DefaultWebhookConfig(srv.URL), nil, testLogger())

	require.NoError(t, wh.Notify(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, srv.received())
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := newRecordingServer(t, http.StatusBadRequest)
	m := monitor.NewMetrics()
	wh := NewWebhook(DefaultWebhookConfig(srv.URL), m, testLogger())

	err := wh.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyDropped))
}

func TestWebhook_RateLimited(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK)
	m := monitor.NewMetrics()
	wh := NewWebhook(WebhookConfig{URL: srv.URL, Rate: 0.001, Burst: 2}, m, testLogger())

	ctx := context.Background()
	require.NoError(t, wh.Notify(ctx, "1"))
	require.NoError(t, wh.Notify(ctx, "2"))

	err := wh.Notify(ctx, "3")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Len(t, srv.received(), 2, "throttled message must not reach the server")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyDropped))
}

func TestWebhook_Truncates(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK)
	wh := NewWebhook(DefaultWebhookConfig(srv.URL), nil, testLogger())

	require.NoError(t, wh.Notify(context.Background(), strings.Repeat("é", MaxContentLength+50)))

	got := srv.received()
	require.Len(t, got, 1)
	assert.Equal(t, MaxContentLength, utf8.RuneCountInString(got[0]))
	assert.True(t, strings.HasSuffix(got[0], "…"))
}

func TestWebhook_Unreachable(t *testing.T) {
	wh := NewWebhook(WebhookConfig{URL: "http://127.0.0.1:1", Timeout: time.Second}, nil, testLogger())
	assert.Error(t, wh.Notify(context.Background(), "x"))
}

func TestMessages(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	assert.Equal(t,
		"🌐 New visit\nTime: 2024-03-05 14:07:09\nPath: /execute\nIP: 10.0.0.1\nUser Agent: Unknown",
		VisitMessage(at, "/execute", "10.0.0.1", ""))

	assert.Equal(t,
		"📬 New Contact Form Submission\nFrom: Ada\nEmail: ada@example.com\nMessage:\nhi there",
		ContactMessage("Ada", "ada@example.com", "hi there"))
}

// blockingSink blocks each Notify until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
}

func (b *blockingSink) Notify(_ context.Context, msg string) error {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, msg)
	b.mu.Unlock()
	return nil
}

func TestAsync_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	a := NewAsync(sink, 10, testLogger())

	for _, m := range []string{"a", "b", "c"} {
		require.True(t, a.Send(m))
	}
	close(sink.release)
	a.Close()

	assert.Equal(t, []string{"a", "b", "c"}, sink.got)
	assert.False(t, a.Send("late"), "Send after Close must be rejected")
}

func TestAsync_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	a := NewAsync(sink, 1, testLogger())

	// The worker may or may not have taken the first message yet, so fill
	// until a send is refused.
	dropped := false
	for i := 0; i < 5; i++ {
		if !a.Send("m") {
			dropped = true
			break
		}
	}
	assert.True(t, dropped, "a full queue must drop instead of blocking")

	close(sink.release)
	a.Close()
}

// stuckSink never completes a delivery on its own; it returns only when the
// context it was handed is done.
type stuckSink struct {
	mu    sync.Mutex
	calls int
}

func (s *stuckSink) Notify(ctx context.Context, _ string) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestAsync_CloseDropsAfterDrainTimeout(t *testing.T) {
	sink := &stuckSink{}
	a := NewAsync(sink, 16, testLogger()).WithDrainTimeout(50 * time.Millisecond)

	for i := 0; i < 10; i++ {
		require.True(t, a.Send("m"))
	}

	start := time.Now()
	a.Close()
	assert.Less(t, time.Since(start), 2*time.Second, "Close must not wait out every message's delivery timeout")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.LessOrEqual(t, sink.calls, 1, "only the in-flight message may reach the sink")
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	assert.NoError(t, s.Notify(context.Background(), "ignored"))
}
