// Package logging provides structured JSON logging with query ID propagation.
// It wraps Go's built-in log/slog with router-specific helpers: a per-query
// ID injected via middleware and extracted from context, so every log line
// emitted while serving a query carries the same query_id field.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
)

type contextKey string

const queryIDKey contextKey = "query_id"

// Logger is the package-level structured logger. Callers should prefer
// FromContext(ctx) to automatically attach the query ID.
var Logger *slog.Logger

func init() {
	Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Setup (re-)initialises the package logger. level is one of debug/info/warn/error
// (default info). format is "json" (default) or "text".
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// NewQueryID generates a random 16-byte hex query ID.
func NewQueryID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithQueryID stores a query ID in the context.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, queryIDKey, queryID)
}

// QueryIDFromContext retrieves the query ID stored in the context.
func QueryIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(queryIDKey).(string)
	return v
}

// FromContext returns a *slog.Logger pre-annotated with the query_id from ctx.
func FromContext(ctx context.Context) *slog.Logger {
	if id := QueryIDFromContext(ctx); id != "" {
		return Logger.With("query_id", id)
	}
	return Logger
}

// Middleware injects a query ID into every request context and echoes it in
// the X-Request-ID response header. Uses the incoming X-Request-ID header if
// present, otherwise generates a new one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queryID := r.Header.Get("X-Request-ID")
		if queryID == "" {
			queryID = NewQueryID()
		}
		ctx := WithQueryID(r.Context(), queryID)
		w.Header().Set("X-Request-ID", queryID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
