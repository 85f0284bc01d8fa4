package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const sessionTracerName = "agentdeck-session"

func sessionTracer() trace.Tracer {
	return Tracer(sessionTracerName)
}

// TraceSessionRun creates a span covering one agent process run.
func TraceSessionRun(ctx context.Context, sessionID string, cycle int) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "session.run",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("cycle", cycle),
	)
	return ctx, span
}

// TraceSessionRunResult records the outcome of a run on its span.
func TraceSessionRunResult(span trace.Span, isError bool, numTurns int, err error) {
	span.SetAttributes(
		attribute.Bool("is_error", isError),
		attribute.Int("num_turns", numTurns),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
