package middleware

import (
	"net/http"
	"strings"
	"time"

	"media-pipeline/internal/logging"
)

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig returns the default configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{LogHealthChecks: true}
}

var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

// sanitizeLogField removes control characters that could be used for log
// injection. Newlines become spaces; tabs are kept.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteRune(' ')
		case r < 0x20 && r != '\t':
			continue
		case r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Logger returns middleware that writes one structured log line per request.
// Server errors are logged at warn level.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			log := logging.With(
				"client", sanitizeLogField(getClientIP(r)),
				"method", sanitizeLogField(r.Method),
				"path", sanitizeLogField(r.URL.Path),
				"status", wrapped.statusCode,
				"bytes", wrapped.bytesWritten,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Warn("request failed")
			} else {
				log.Info("request")
			}
		})
	}
}

func shouldSkip(path string, config LoggingConfig) bool {
	for _, skipPath := range config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return !config.LogHealthChecks && healthCheckPaths[path]
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
