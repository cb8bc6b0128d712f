package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	contentIDKey contextKey = "content_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithContentID marks ctx as belonging to the acquisition of one item. The
// Handler adds it to every record logged with that context.
func WithContentID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, contentIDKey, id)
}

// ContentIDFromContext returns the item id set by WithContentID.
func ContentIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(contentIDKey).(uint64)

	return id, ok
}
