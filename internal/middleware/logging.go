package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseWriter captures the status code and body size a handler writes
// so the access log can report them.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer so http.ResponseController can
// still reach Hijacker and Flusher, which the websocket upgrade needs.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger returns middleware that writes one access-log line per
// request. Server errors log at error level and client errors at warn, so
// a quiet log means a healthy API.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.LogAttrs(r.Context(), levelFor(rw.status), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Int("bytes", rw.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("client_ip", ClientIP(r)),
			)
		})
	}
}
