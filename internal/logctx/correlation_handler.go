package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// CorrelationHandler is an slog.Handler wrapper that stamps every record with
// the request id and the OpenTelemetry trace/span ids found in the context.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps h. It panics if h is nil.
func NewCorrelationHandler(h slog.Handler) *CorrelationHandler {
	if h == nil {
		panic("logctx: NewCorrelationHandler called with nil handler")
	}

	return &CorrelationHandler{inner: h}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds request_id, trace_id and span_id when they are present.
func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
