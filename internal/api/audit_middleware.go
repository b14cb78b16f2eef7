package api

import (
	"net/http"
	"time"

	"github.com/example/clinic-finance/internal/auth"
	"github.com/example/clinic-finance/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Recorder receives one audit record per mutating request.
type Recorder interface {
	Record(action string, details map[string]any)
}

// AuditMiddleware records every state-changing request on the audit
// trail, after the handler has run so the final status is known.
func AuditMiddleware(rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			details := map[string]any{
				"cid":         security.CorrelationIDFromContext(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sw.status,
				"duration_ms": dur.Milliseconds(),
			}
			if s, ok := auth.SessionFromContext(r.Context()); ok {
				details["user"] = s.Username
			}
			rec.Record("http_mutation", details)
		})
	}
}
