// Package telemetry sets up OpenTelemetry tracing, metrics and the log
// bridge for the portal, and declares the portal's own instruments.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/pitabwire/portal/config"
)

// Manager owns the global OpenTelemetry providers of the process.
type Manager interface {
	Init(ctx context.Context) error
	Disabled() bool
	// LogHandler is the slog bridge into the log provider, nil until Init
	// ran with telemetry enabled.
	LogHandler() slog.Handler
	Shutdown(ctx context.Context) error
}

type serviceIdentity struct {
	name        string
	version     string
	environment string
}

type manager struct {
	cfg     config.ConfigurationTelemetry
	service serviceIdentity

	spans   sdktrace.SpanExporter
	metrics sdkmetric.Reader

	logHandler slog.Handler
	shutdowns  []func(context.Context) error
}

// NewManager prepares telemetry for cfg. Nothing global changes before Init.
func NewManager(cfg config.ConfigurationTelemetry, opts ...Option) Manager {
	m := &manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) Disabled() bool {
	return m.cfg != nil && m.cfg.DisableOpenTelemetry()
}

func (m *manager) LogHandler() slog.Handler {
	return m.logHandler
}

// Init installs the propagator and the trace, metric and log providers. On
// failure whatever was already installed is shut down again.
func (m *manager) Init(ctx context.Context) error {
	if m.Disabled() {
		return nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(m.service.name),
		semconv.ServiceVersion(m.service.version),
		semconv.DeploymentEnvironmentName(m.service.environment),
		semconv.ProcessPID(os.Getpid()),
		semconv.ProcessRuntimeName("go"),
		semconv.ProcessRuntimeVersion(runtime.Version()),
	))
	if err != nil {
		return err
	}

	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())

	for _, install := range []func(context.Context, *resource.Resource) error{
		m.installTracing,
		m.installMetrics,
		m.installLogs,
	} {
		if err = install(ctx, res); err != nil {
			return errors.Join(err, m.Shutdown(ctx))
		}
	}
	return nil
}

// Shutdown flushes and stops the providers Init installed, newest first.
func (m *manager) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(m.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, m.shutdowns[i](ctx))
	}
	m.shutdowns = nil
	return errors.Join(errs...)
}

// exporters stay silent unless OTEL_*_EXPORTER names one
func silentByDefault(envVar string) {
	if os.Getenv(envVar) == "" {
		_ = os.Setenv(envVar, "none")
	}
}

func (m *manager) installTracing(ctx context.Context, res *resource.Resource) error {
	exporter := m.spans
	if exporter == nil {
		silentByDefault("OTEL_TRACES_EXPORTER")
		var err error
		if exporter, err = autoexport.NewSpanExporter(ctx); err != nil {
			return err
		}
	}

	ratio := 1.0
	if m.cfg != nil {
		ratio = m.cfg.SamplingRatio()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	m.shutdowns = append(m.shutdowns, tp.Shutdown)
	return nil
}

func (m *manager) installMetrics(ctx context.Context, res *resource.Resource) error {
	reader := m.metrics
	if reader == nil {
		silentByDefault("OTEL_METRICS_EXPORTER")
		var err error
		if reader, err = autoexport.NewMetricReader(ctx); err != nil {
			return err
		}
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	m.shutdowns = append(m.shutdowns, mp.Shutdown)
	return nil
}

func (m *manager) installLogs(ctx context.Context, res *resource.Resource) error {
	silentByDefault("OTEL_LOGS_EXPORTER")
	exporter, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	global.SetLoggerProvider(lp)
	m.shutdowns = append(m.shutdowns, lp.Shutdown)

	m.logHandler = otelslog.NewHandler(m.service.name,
		otelslog.WithSource(true),
		otelslog.WithLoggerProvider(lp),
		otelslog.WithAttributes(res.Attributes()...))
	return nil
}
