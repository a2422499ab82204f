package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/sakif/pyrelay/internal/monitor"
)

// MaxContentLength is the longest message body a Discord webhook accepts.
// Longer messages are truncated, not rejected.
const MaxContentLength = 2000

// WebhookConfig configures a Webhook sink.
type WebhookConfig struct {
	URL     string
	Rate    float64 // sustained messages per second
	Burst   int
	Timeout time.Duration
}

// DefaultWebhookConfig stays under Discord's per-webhook limit of
// 5 requests per 2 seconds.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:     url,
		Rate:    2,
		Burst:   5,
		Timeout: 5 * time.Second,
	}
}

// Webhook posts {"content": message} to a Discord-compatible webhook URL.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	metrics *monitor.Metrics
	logger  *slog.Logger
}

// NewWebhook creates a Webhook sink. metrics may be nil.
func NewWebhook(cfg WebhookConfig, metrics *monitor.Metrics, logger *slog.Logger) *Webhook {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Webhook{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		metrics: metrics,
		logger:  logger,
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Notify posts one message. It returns ErrRateLimited without making a
// request when the limiter is exhausted.
func (w *Webhook) Notify(ctx context.Context, message string) error {
	if !w.limiter.Allow() {
		w.dropped()
		return ErrRateLimited
	}

	body, err := json.Marshal(webhookPayload{Content: truncate(message, MaxContentLength)})
	if err != nil {
		return fmt.Errorf("notify: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.dropped()
		return fmt.Errorf("notify: posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		w.dropped()
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) dropped() {
	if w.metrics != nil {
		w.metrics.NotifyDropped.Inc()
	}
}

// truncate cuts s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
