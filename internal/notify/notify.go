// Package notify delivers short operator notifications (site visits, contact
// form submissions) to a chat webhook.
//
// Delivery is best effort. A failed or throttled notification is logged and
// counted; it never fails the HTTP request that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRateLimited is returned by Webhook.Notify when the limiter has no
// token available.
var ErrRateLimited = errors.New("notify: rate limited")

// Sink delivers one message.
type Sink interface {
	Notify(ctx context.Context, message string) error
}

// Nop discards every message. Used when no webhook URL is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// VisitMessage formats a page visit.
func VisitMessage(at time.Time, path, ip, userAgent string) string {
	if userAgent == "" {
		userAgent = "Unknown"
	}
	return fmt.Sprintf("🌐 New visit\nTime: %s\nPath: %s\nIP: %s\nUser Agent: %s",
		at.Format(time.DateTime), path, ip, userAgent)
}

// ContactMessage formats a contact form submission.
func ContactMessage(name, email, message string) string {
	var b strings.Builder
	b.WriteString("📬 New Contact Form Submission\n")
	fmt.Fprintf(&b, "From: %s\n", name)
	fmt.Fprintf(&b, "Email: %s\n", email)
	b.WriteString("Message:\n")
	b.WriteString(message)
	return b.String()
}
