package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"nostr-feed/internal/metrics"
)

var ErrInvalidLogLevel = errors.New("invalid log level")

// Context key for request ID
type contextKey string

const requestIDKey contextKey = "request_id"

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidLogLevel, level)
	}
}

// InitLogger installs the default logger: colored text on a terminal, JSON
// otherwise. Logs go to stderr so command output stays clean on stdout.
func InitLogger(level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, parsed)))
	return nil
}

func newLogHandler(w *os.File, level slog.Level) slog.Handler {
	if isatty.IsTerminal(w.Fd()) {
		return tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// generateRequestID creates a short random ID for request tracing
func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RequestIDFromContext extracts request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns a logger with request ID attached
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}

// RequestLoggingMiddleware adds a request ID, logs the response and counts it
func RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := generateRequestID()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case wrapped.statusCode >= 500:
			slog.Error("request failed", attrs...)
		case wrapped.statusCode >= 400:
			slog.Warn("request error", attrs...)
		default:
			slog.Debug("request completed", attrs...)
		}

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
