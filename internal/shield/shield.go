// CLAUDE:SUMMARY HTTP middleware stack of the dominject control API: HEAD as GET, security headers, body limit, request id with per-request logger.
// Package shield holds the HTTP middleware in front of the control API.
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/dominject/internal/idgen"
	"github.com/hazyhaar/dominject/internal/kit"
)

type contextKey string

// LoggerKey holds the per-request logger.
const LoggerKey contextKey = "shield_logger"

// MaxBody is the request body limit of Stack.
const MaxBody = 64 * 1024

var requestID = idgen.NanoID(8)

// Stack returns the middleware of the control API, outermost first.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders,
		LimitBody(MaxBody),
		RequestID(logger),
	}
}

// HeadToGet lets routes registered with Get answer HEAD requests.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the headers of a JSON-only API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// LimitBody caps every request body at maxBytes.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags each request with an id (reusing a sane X-Request-ID),
// echoes it in the response and stores a request logger in the context.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 64 {
				id = requestID()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
			l := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger returns the request logger, or slog.Default.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
