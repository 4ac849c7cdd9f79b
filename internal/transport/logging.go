package transport

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// RequestLog is one structured HTTP access-log entry. The transport layer
// logs through log/slog rather than internal/logger's zerolog wrapper,
// preserving the split the teacher itself has between its core engine
// (zerolog) and its webui command (stdlib log/slog).
type RequestLog struct {
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Query         string    `json:"query,omitempty"`
	Duration      float64   `json:"duration_ms"`
	ContentLength int       `json:"content_length"`
	UserAgent     string    `json:"user_agent,omitempty"`
	ClientIP      string    `json:"client_ip"`
}

type LoggingMiddleware struct {
	logger    *slog.Logger
	skipPaths map[string]bool
}

func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		skipPaths: map[string]bool{
			"/health":  true,
			"/healthz": true,
			"/readyz":  true,
			"/metrics": true,
		},
	}
}

func (m *LoggingMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		requestID := generateRequestID()
		start := time.Now()
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r)

		m.logger.Info("HTTP request", slog.Any("request", RequestLog{
			RequestID:     requestID,
			Timestamp:     start,
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			ContentLength: int(r.ContentLength),
			UserAgent:     r.UserAgent(),
			ClientIP:      r.RemoteAddr,
			Duration:      time.Since(start).Seconds() * 1000,
		}))
	}
}

func generateRequestID() string {
	return time.Now().Format("20060102150405.000000")
}
