package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"calpulse/internal/config"
)

const (
	ServiceName    = "calpulse"
	ServiceVersion = "1.0.0"
	MeterName      = "calpulse"
)

// RunMetrics instruments a pipeline run. Counters and histograms land in
// a Prometheus registry that is snapshotted to a text file when the run
// finishes; there is no scrape endpoint in a batch job.
type RunMetrics struct {
	enabled       bool
	registry      *promclient.Registry
	meterProvider *sdkmetric.MeterProvider
	traceProvider *sdktrace.TracerProvider
	tracer        trace.Tracer

	stageDuration metric.Float64Histogram
	rowsRead      metric.Int64Counter
	rowsWritten   metric.Int64Counter
	stageFailures metric.Int64Counter

	logger *slog.Logger
}

// NewRunMetrics sets up an OpenTelemetry meter backed by a Prometheus
// registry, plus an optional stdout tracer for stage spans.
func NewRunMetrics(cfg config.MetricsConfig, logger *slog.Logger) (*RunMetrics, error) {
	rm := &RunMetrics{enabled: cfg.Enabled, logger: logger}
	if !cfg.Enabled {
		return rm, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	rm.registry = promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(rm.registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	rm.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(rm.meterProvider)
	meter := rm.meterProvider.Meter(MeterName)

	if rm.stageDuration, err = meter.Float64Histogram(
		"calpulse_stage_duration_seconds",
		metric.WithDescription("Wall-clock duration of each pipeline stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}
	if rm.rowsRead, err = meter.Int64Counter(
		"calpulse_rows_read_total",
		metric.WithDescription("Input rows consumed per stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rows read counter: %w", err)
	}
	if rm.rowsWritten, err = meter.Int64Counter(
		"calpulse_rows_written_total",
		metric.WithDescription("Artifact rows produced per stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rows written counter: %w", err)
	}
	if rm.stageFailures, err = meter.Int64Counter(
		"calpulse_stage_failures_total",
		metric.WithDescription("Stage executions that returned an error"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage failure counter: %w", err)
	}

	if cfg.EnableTracing {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		rm.traceProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(rm.traceProvider)
		rm.tracer = rm.traceProvider.Tracer(MeterName)
	}

	return rm, nil
}

// StartStageSpan opens a trace span for a stage when tracing is enabled.
// The returned function ends the span.
func (m *RunMetrics) StartStageSpan(ctx context.Context, stage string) (context.Context, func()) {
	if m == nil || m.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := m.tracer.Start(ctx, "stage:"+stage)
	return ctx, func() { span.End() }
}

// RecordStage records the duration and outcome of one stage execution.
func (m *RunMetrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration, err error) {
	if m == nil || !m.enabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.stageDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.stageFailures.Add(ctx, 1, attrs)
	}
}

// AddRowsRead counts input rows consumed by a stage.
func (m *RunMetrics) AddRowsRead(ctx context.Context, stage string, n int) {
	if m == nil || !m.enabled {
		return
	}
	m.rowsRead.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
}

// AddRowsWritten counts artifact rows produced by a stage.
func (m *RunMetrics) AddRowsWritten(ctx context.Context, stage string, n int) {
	if m == nil || !m.enabled {
		return
	}
	m.rowsWritten.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
}

// Snapshot writes the Prometheus registry in text exposition format.
func (m *RunMetrics) Snapshot(path string) error {
	if m == nil || !m.enabled {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot: %w", err)
	}
	defer file.Close()

	enc := expfmt.NewEncoder(file, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Shutdown flushes the otel providers.
func (m *RunMetrics) Shutdown(ctx context.Context) error {
	if m == nil || !m.enabled {
		return nil
	}
	if m.traceProvider != nil {
		if err := m.traceProvider.Shutdown(ctx); err != nil {
			m.logger.WarnContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if err := m.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown failed: %w", err)
	}
	return nil
}
