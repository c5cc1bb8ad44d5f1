package operations

import (
	"context"
	"fmt"
	"time"

	apperrors "munireports/internal/errors"
	"munireports/internal/infrastructure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "munireports.operations"
)

// OperationTracer provides OpenTelemetry instrumentation for workflows and
// recipes. A nil *OperationTracer is valid and records nothing.
type OperationTracer struct {
	tracer          trace.Tracer
	businessMetrics *infrastructure.BusinessMetrics
}

// NewOperationTracer creates a tracer over the given providers. With nil
// providers the global (no-op until initialised) providers are used.
func NewOperationTracer(providers *infrastructure.OTelProviders) (*OperationTracer, error) {
	var meter metric.Meter
	if providers != nil {
		meter = providers.Meter
	}
	businessMetrics, err := infrastructure.CreateBusinessMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	return &OperationTracer{
		tracer:          otel.Tracer(TracerName),
		businessMetrics: businessMetrics,
	}, nil
}

// Metrics exposes the instruments for callers outside this package
func (pt *OperationTracer) Metrics() *infrastructure.BusinessMetrics {
	if pt == nil {
		return nil
	}
	return pt.businessMetrics
}

// TraceWorkflow creates the span covering one city-year workflow
func (pt *OperationTracer) TraceWorkflow(ctx context.Context, city string, year int) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := pt.tracer.Start(ctx, "workflow.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.city", city),
			attribute.Int("workflow.year", year),
		),
	)
	infrastructure.RecordActiveWorkflowChange(ctx, pt.businessMetrics, 1)
	return ctx, span
}

// RecordWorkflowCompletion closes out a workflow span
func (pt *OperationTracer) RecordWorkflowCompletion(ctx context.Context, span trace.Span, city string, year int, state State, status Status, c Counters, duration time.Duration) {
	if pt == nil {
		return
	}
	span.SetAttributes(
		attribute.String("workflow.state", string(state)),
		attribute.String("workflow.status", string(status)),
		attribute.Int("workflow.submissions", c.SubmissionsSucceeded),
		attribute.Int("workflow.files_converted", c.FilesConverted),
		attribute.Float64("workflow.duration_seconds", duration.Seconds()),
	)

	infrastructure.RecordActiveWorkflowChange(ctx, pt.businessMetrics, -1)
	infrastructure.RecordWorkflowMetrics(ctx, pt.businessMetrics, city, year, string(status), duration)
	infrastructure.RecordFiles(ctx, pt.businessMetrics, c.FilesDownloaded, c.FilesConverted)
	if state == StateCancelled {
		infrastructure.RecordCancellation(ctx, pt.businessMetrics, city, string(state))
	}

	infrastructure.AddSpanEvent(ctx, "workflow.completed", map[string]interface{}{
		"state":    string(state),
		"status":   string(status),
		"duration": duration.Seconds(),
	})

	if status == StatusSuccess {
		span.SetStatus(codes.Ok, "workflow completed successfully")
	} else {
		span.SetStatus(codes.Error, fmt.Sprintf("workflow finished with status: %s", status))
	}
	span.End()
}

// TraceRecipe creates a span for one recipe execution
func (pt *OperationTracer) TraceRecipe(ctx context.Context, recipe string, batch int) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return pt.tracer.Start(ctx, "workflow.recipe",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("recipe.name", recipe),
			attribute.Int("recipe.batch", batch),
		),
	)
}

// RecordRecipeCompletion closes out a recipe span
func (pt *OperationTracer) RecordRecipeCompletion(ctx context.Context, span trace.Span, recipe string, duration time.Duration, err error) {
	if pt == nil {
		return
	}
	outcome := "submitted"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		infrastructure.RecordError(ctx, err,
			trace.WithAttributes(attribute.String("recipe.name", recipe)))
		infrastructure.RecordWorkflowError(ctx, pt.businessMetrics, outcome)
	} else {
		span.SetStatus(codes.Ok, "recipe submitted")
	}
	infrastructure.RecordRecipeMetrics(ctx, pt.businessMetrics, recipe, outcome, duration)
	span.End()
}

// TraceHarvest creates a span for one harvest
func (pt *OperationTracer) TraceHarvest(ctx context.Context, batch, expected int) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return pt.tracer.Start(ctx, fmt.Sprintf("workflow.harvest.%d", batch),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("harvest.batch", batch),
			attribute.Int("harvest.expected", expected),
		),
	)
}

// RecordHarvestCompletion closes out a harvest span
func (pt *OperationTracer) RecordHarvestCompletion(ctx context.Context, span trace.Span, res HarvestResult, err error) {
	if pt == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("harvest.attempts", res.Attempts),
		attribute.Int("harvest.clicked", res.Clicked),
		attribute.Int("harvest.promoted", res.Promoted),
	)
	switch {
	case err != nil:
		infrastructure.RecordError(ctx, err)
		infrastructure.RecordWorkflowError(ctx, pt.businessMetrics, string(apperrors.KindOf(err)))
	case res.Warning != nil:
		infrastructure.RecordWorkflowError(ctx, pt.businessMetrics, string(apperrors.KindOf(res.Warning)))
		span.SetStatus(codes.Error, res.Warning.Error())
	default:
		span.SetStatus(codes.Ok, fmt.Sprintf("promoted %d file(s)", res.Promoted))
	}
	span.End()
}
