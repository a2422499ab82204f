package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/sakif/pyrelay/internal/notify"
)

// untrackedPrefixes are paths that do not produce a visit notification.
var untrackedPrefixes = []string{"/static", "/metrics", "/healthz"}

// TrackVisits emits a visit notification for every request outside
// untrackedPrefixes. Sending is asynchronous and never delays or fails the
// request; a nil dispatcher disables tracking.
//
// It must run after chi's RealIP so RemoteAddr is the client address.
func TrackVisits(dispatcher *notify.Async) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if dispatcher == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tracked(r.URL.Path) {
				dispatcher.Send(notify.VisitMessage(
					time.Now(), r.URL.Path, clientIP(r), r.UserAgent(),
				))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tracked(path string) bool {
	for _, p := range untrackedPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}
