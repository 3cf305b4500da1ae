package telemetry

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option configures a Manager before Init.
type Option func(*manager)

// WithServiceName tags every signal with the service name.
func WithServiceName(name string) Option {
	return func(m *manager) {
		m.service.name = name
	}
}

func WithServiceVersion(version string) Option {
	return func(m *manager) {
		m.service.version = version
	}
}

func WithServiceEnvironment(environment string) Option {
	return func(m *manager) {
		m.service.environment = environment
	}
}

// WithTraceExporter sends spans to exporter instead of the one named by
// OTEL_TRACES_EXPORTER.
func WithTraceExporter(exporter sdktrace.SpanExporter) Option {
	return func(m *manager) {
		m.spans = exporter
	}
}

// WithMetricsReader collects metrics through reader instead of the one named
// by OTEL_METRICS_EXPORTER.
func WithMetricsReader(reader sdkmetric.Reader) Option {
	return func(m *manager) {
		m.metrics = reader
	}
}
