package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Units are encoded according to the case-sensitive abbreviations from the
// Unified Code for Units of Measure: http://unitsofmeasure.org/ucum.html.
const (
	unitDimensionless = "1"
	unitMilliseconds  = "ms"
)

const meterPackage = "github.com/pitabwire/portal"

//nolint:gochecknoglobals // OpenTelemetry attribute keys must be global for reuse
var (
	AttrMethodKey  = attribute.Key("portal_method")
	AttrPackageKey = attribute.Key("portal_package")
	AttrStatusKey  = attribute.Key("portal_status")
	AttrErrorKey   = attribute.Key("portal_error")

	AttrLocaleKey   = attribute.Key("portal_locale")
	AttrReasonKey   = attribute.Key("portal_reason")
	AttrDecisionKey = attribute.Key("portal_decision")
)

func meter(pkg string) metric.Meter {
	return otel.Meter(pkg, metric.WithInstrumentationAttributes(AttrPackageKey.String(pkg)))
}

// LatencyMeasure returns the histogram for method call latency.
func LatencyMeasure(pkg string) metric.Float64Histogram {
	m, err := meter(pkg).Float64Histogram(
		pkg+"/latency",
		metric.WithDescription("Latency distribution of method calls"),
		metric.WithUnit(unitMilliseconds),
	)
	if err != nil {
		// only invalid instrument names fail, a programming error
		panic(fmt.Sprintf("fullName=%q: %v", pkg, err))
	}
	return m
}

// DimensionlessMeasure creates a simple counter for dimensionless measurements.
func DimensionlessMeasure(pkg string, meterName string, description string) metric.Int64Counter {
	m, err := meter(pkg).Int64Counter(
		pkg+meterName,
		metric.WithDescription(description),
		metric.WithUnit(unitDimensionless),
	)
	if err != nil {
		panic(fmt.Sprintf("fullName=%q: %v", pkg+meterName, err))
	}
	return m
}

// Instruments are the counters the request pipeline reports to.
type Instruments struct {
	broadcasts     metric.Int64Counter
	redirects      metric.Int64Counter
	guardDecisions metric.Int64Counter
}

// NewInstruments registers the portal counters on the global meter provider.
func NewInstruments() *Instruments {
	return &Instruments{
		broadcasts: DimensionlessMeasure(meterPackage, "/locale_broadcasts",
			"Refetch broadcasts fired by a locale change"),
		redirects: DimensionlessMeasure(meterPackage, "/redirects",
			"Redirects issued by the locale gate and the route guard"),
		guardDecisions: DimensionlessMeasure(meterPackage, "/guard_decisions",
			"Route guard decisions by outcome"),
	}
}

// Broadcast counts one fan-out into locale.
func (i *Instruments) Broadcast(ctx context.Context, locale string) {
	if i == nil {
		return
	}
	i.broadcasts.Add(ctx, 1, metric.WithAttributes(AttrLocaleKey.String(locale)))
}

// Redirect counts one redirect issued for reason.
func (i *Instruments) Redirect(ctx context.Context, reason string) {
	if i == nil {
		return
	}
	i.redirects.Add(ctx, 1, metric.WithAttributes(AttrReasonKey.String(reason)))
}

// GuardDecision counts one guard outcome.
func (i *Instruments) GuardDecision(ctx context.Context, decision string) {
	if i == nil {
		return
	}
	i.guardDecisions.Add(ctx, 1, metric.WithAttributes(AttrDecisionKey.String(decision)))
}
