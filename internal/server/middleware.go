package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/docqa-go/internal/logging"
)

// RequestIDHeader carries the request ID in both directions. A well-formed
// inbound value is reused so one ID can follow a request across services.
const RequestIDHeader = "X-Request-ID"

// requestLogger tags each request with an ID, stores a child logger carrying
// it in the context for handlers and the service, and logs one line when the
// response is complete.
func requestLogger(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestID(r)
		w.Header().Set(RequestIDHeader, reqID)

		log := base.With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		r = r.WithContext(logging.WithLogger(r.Context(), log))

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if rw.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(r.Context(), level, "request",
			slog.Int("status", rw.status),
			slog.Int64("bytes", rw.written),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// requestID returns the inbound X-Request-ID when it parses as a UUID, and a
// fresh one otherwise.
func requestID(r *http.Request) string {
	if v := r.Header.Get(RequestIDHeader); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

// responseWriter records the status code and body size for logging and
// metrics.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
