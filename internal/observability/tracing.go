package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// LogExporter writes finished spans to the debug log.
type LogExporter struct {
	Logger *zap.Logger
}

func (e LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.Logger.Debug("[Trace] span",
			zap.String("name", s.Name()),
			zap.String("trace_id", s.SpanContext().TraceID().String()),
			zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
			zap.String("status", s.Status().Code.String()),
		)
	}
	return nil
}

func (LogExporter) Shutdown(context.Context) error { return nil }

// InitTracing installs a global tracer provider that samples ratio of root
// spans and exports them to logger. The returned func flushes and stops it.
func InitTracing(logger *zap.Logger, ratio float64) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(LogExporter{Logger: logger}),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
