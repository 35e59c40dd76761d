package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests that no pattern matched.
const unmatchedRoute = "unmatched"

// responseWriter wraps http.ResponseWriter to capture the status code and
// body size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)

	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// instrument logs and measures every request. The mux fills in r.Pattern
// while serving, so the route is read after next returns.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.nowFunc()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := s.nowFunc().Sub(start)

		route := r.Pattern
		if route == "" {
			route = unmatchedRoute
		}

		s.metrics.record(r.Method, route, rw.status, duration)

		level := slog.LevelInfo
		if r.URL.Path == "/" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}

		s.logger.Log(r.Context(), level, "request completed",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", rw.status),
			slog.Int64("size", rw.size),
			slog.Duration("duration", duration),
		)
	})
}
