package logger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type ctxAttrsKey struct{}

// With возвращает ctx, к которому привязаны attrs; FromCtx добавит их в логгер.
// Атрибут с уже привязанным ключом заменяется, а не дублируется.
func With(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	for _, a := range prev {
		if !hasKey(attrs, a.Key) {
			merged = append(merged, a)
		}
	}
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxAttrsKey{}, merged)
}

func hasKey(attrs []slog.Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// AttrsFromCtx: атрибуты из With плюс trace_id/span_id активного span.
func AttrsFromCtx(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)

	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return attrs
	}

	out := make([]slog.Attr, 0, len(attrs)+2)
	out = append(out, attrs...)
	return append(out,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

func FromCtx(ctx context.Context) *slog.Logger {
	attrs := AttrsFromCtx(ctx)
	if len(attrs) == 0 {
		return L()
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return L().With(args...)
}
