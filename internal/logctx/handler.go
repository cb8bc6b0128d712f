package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Handler is an slog.Handler wrapper that injects the OpenTelemetry trace_id and
// span_id and the content_id carried by the context into every record.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps h. Panics if h is nil.
func NewHandler(h slog.Handler) *Handler {
	if h == nil {
		panic("logctx: NewHandler called with nil handler")
	}

	return &Handler{inner: h}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	if id, ok := ContentIDFromContext(ctx); ok {
		r.AddAttrs(slog.Uint64("content_id", id))
	}

	return h.inner.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
