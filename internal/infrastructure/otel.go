package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "munireports"
	ServiceVersion = "1.0.0"
	MeterName      = "munireports"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	TraceExporter   string // "stdout", "otlp", "none"
	MetricExporter  string // "prometheus", "stdout", "none"
	EnableMetrics   bool
	EnableTracing   bool
	SampleRatio     float64
	PrometheusPort  string
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("MUNIREPORTS_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &OTelConfig{
		ServiceName:     ServiceName,
		ServiceVersion:  ServiceVersion,
		Environment:     env,
		TraceExporter:   "stdout", // Use stdout for development
		MetricExporter:  "prometheus",
		EnableMetrics:   true,
		EnableTracing:   true,
		SampleRatio:     1.0, // Sample all traces in development
		PrometheusPort:  "9090",
	}
}

// InitializeOTel initializes OpenTelemetry with comprehensive observability
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	ctx := context.Background()
	
	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	// Create resource
	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
	}

	// Initialize tracing
	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	// Initialize metrics
	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	// Set up global propagators for trace context
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg *OTelConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
	case "none":
		// No exporter - tracing disabled
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Create tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return nil
}

// initializeMetrics sets up OpenTelemetry metrics
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		// Create Prometheus exporter
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		
		// Create Prometheus HTTP handler
		providers.PrometheusHTTP = promhttp.Handler()
		
		// Create meter provider with Prometheus reader
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

		// Set global meter provider
		otel.SetMeterProvider(mp)
		
	case "none":
		// No exporter - metrics disabled
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.InfoContext(ctx, "Metrics initialized",
		slog.String("exporter", cfg.MetricExporter))

	return nil
}

// CreateBusinessMetrics creates application-specific metrics. A nil meter
// falls back to the global provider, which is a no-op until InitializeOTel
// runs.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(MeterName)
	}

	// HTTP metrics
	httpRequestsTotal, err := meter.Int64Counter(
		"munireports_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"munireports_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	httpActiveRequests, err := meter.Int64UpDownCounter(
		"munireports_http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	// Workflow metrics
	workflowsTotal, err := meter.Int64Counter(
		"munireports_workflows_total",
		metric.WithDescription("City-year workflows finished, by status"),
	)
	if err != nil {
		return nil, err
	}

	workflowDuration, err := meter.Float64Histogram(
		"munireports_workflow_duration_seconds",
		metric.WithDescription("City-year workflow duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeWorkflows, err := meter.Int64UpDownCounter(
		"munireports_active_workflows",
		metric.WithDescription("Number of workflows currently running"),
	)
	if err != nil {
		return nil, err
	}

	recipesTotal, err := meter.Int64Counter(
		"munireports_recipes_total",
		metric.WithDescription("Report recipes executed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	recipeDuration, err := meter.Float64Histogram(
		"munireports_recipe_duration_seconds",
		metric.WithDescription("Recipe execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	filesDownloaded, err := meter.Int64Counter(
		"munireports_files_downloaded_total",
		metric.WithDescription("Unique report files promoted to raw/"),
	)
	if err != nil {
		return nil, err
	}

	filesConverted, err := meter.Int64Counter(
		"munireports_files_converted_total",
		metric.WithDescription("Report files converted to xlsx"),
	)
	if err != nil {
		return nil, err
	}

	workflowErrors, err := meter.Int64Counter(
		"munireports_workflow_errors_total",
		metric.WithDescription("Workflow errors, by kind"),
	)
	if err != nil {
		return nil, err
	}

	cancellations, err := meter.Int64Counter(
		"munireports_cancellations_total",
		metric.WithDescription("Workflows that observed a cancellation"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		HTTPActiveRequests:  httpActiveRequests,

		WorkflowsTotal:   workflowsTotal,
		WorkflowDuration: workflowDuration,
		ActiveWorkflows:  activeWorkflows,
		RecipesTotal:     recipesTotal,
		RecipeDuration:   recipeDuration,
		FilesDownloaded:  filesDownloaded,
		FilesConverted:   filesConverted,
		WorkflowErrors:   workflowErrors,
		Cancellations:    cancellations,
	}, nil
}

// BusinessMetrics holds all application-specific metrics
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Workflow metrics
	WorkflowsTotal   metric.Int64Counter
	WorkflowDuration metric.Float64Histogram
	ActiveWorkflows  metric.Int64UpDownCounter
	RecipesTotal     metric.Int64Counter
	RecipeDuration   metric.Float64Histogram
	FilesDownloaded  metric.Int64Counter
	FilesConverted   metric.Int64Counter
	WorkflowErrors   metric.Int64Counter
	Cancellations    metric.Int64Counter
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts trace ID from context for logging correlation
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// AddSpanEvent adds an event to the current span with structured attributes
func AddSpanEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// RecordWorkflowMetrics records a finished workflow
func RecordWorkflowMetrics(ctx context.Context, metrics *BusinessMetrics, city string, year int, status string, duration time.Duration) {
	if metrics == nil {
		return
	}

	statusAttr := attribute.String("status", status)
	metrics.WorkflowsTotal.Add(ctx, 1, metric.WithAttributes(statusAttr))
	metrics.WorkflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(statusAttr))

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("workflow.metrics_recorded",
			trace.WithAttributes(
				attribute.String("workflow.city", city),
				attribute.Int("workflow.year", year),
				attribute.String("workflow.status", status),
				attribute.Float64("duration_seconds", duration.Seconds()),
			),
		)
	}
}

// RecordRecipeMetrics records one recipe execution
func RecordRecipeMetrics(ctx context.Context, metrics *BusinessMetrics, recipe, outcome string, duration time.Duration) {
	if metrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	metrics.RecipesTotal.Add(ctx, 1, attrs)
	metrics.RecipeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("recipe", recipe),
		))
}

// RecordWorkflowError counts an error by kind
func RecordWorkflowError(ctx context.Context, metrics *BusinessMetrics, kind string) {
	if metrics == nil || kind == "" {
		return
	}
	metrics.WorkflowErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFiles counts promoted and converted files
func RecordFiles(ctx context.Context, metrics *BusinessMetrics, downloaded, converted int) {
	if metrics == nil {
		return
	}
	if downloaded > 0 {
		metrics.FilesDownloaded.Add(ctx, int64(downloaded))
	}
	if converted > 0 {
		metrics.FilesConverted.Add(ctx, int64(converted))
	}
}

// RecordActiveWorkflowChange records changes in the running workflow count
func RecordActiveWorkflowChange(ctx context.Context, metrics *BusinessMetrics, delta int64) {
	if metrics == nil {
		return
	}
	metrics.ActiveWorkflows.Add(ctx, delta)
}

// RecordCancellation records a workflow that ended on cancellation
func RecordCancellation(ctx context.Context, metrics *BusinessMetrics, city string, state string) {
	if metrics == nil {
		return
	}

	metrics.Cancellations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("city", city),
			attribute.String("state", state),
		))
}
