package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "swarmcore"

// StartProposalSpan starts a span covering a proposal from creation to
// resolution.
func StartProposalSpan(ctx context.Context, proposalID, strategy string, voters int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "proposal",
		trace.WithAttributes(
			attribute.String("proposal.id", proposalID),
			attribute.String("proposal.strategy", strategy),
			attribute.Int("proposal.voters", voters),
		),
	)
}

// StartAssignSpan starts a span for one phase assignment attempt.
func StartAssignSpan(ctx context.Context, taskID, phaseID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "assign",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("phase.id", phaseID),
		),
	)
}

// StartMessageSpan starts a span for dispatching one bus message.
func StartMessageSpan(ctx context.Context, msgType, channel string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "bus.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("message.type", msgType),
			attribute.String("message.channel", channel),
		),
	)
}
