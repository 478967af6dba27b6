package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName is the instrumentation scope of the reconciler's instruments.
const MeterName = "github.com/kbukum/beachhead/reconciler"

// InitMeter installs a global meter provider exporting over OTLP HTTP.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg Config, svc ServiceInfo) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(svc)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Metrics holds the instruments recorded by the reconciler.
type Metrics struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	declarations metric.Int64Counter
	records      metric.Int64Counter
	publishes    metric.Int64Counter
	errors       metric.Int64Counter
}

// NewMetrics creates the reconciler instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	ticks, err := meter.Int64Counter("beachhead.ticks",
		metric.WithDescription("Reconciliation ticks by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating beachhead.ticks counter: %w", err)
	}

	tickDuration, err := meter.Float64Histogram("beachhead.tick.duration",
		metric.WithDescription("Duration of reconciliation ticks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating beachhead.tick.duration histogram: %w", err)
	}

	declarations, err := meter.Int64Counter("beachhead.declarations",
		metric.WithDescription("Container declarations seen by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating beachhead.declarations counter: %w", err)
	}

	records, err := meter.Int64Counter("beachhead.records",
		metric.WithDescription("Service records derived from declarations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating beachhead.records counter: %w", err)
	}

	publishes, err := meter.Int64Counter("beachhead.publishes",
		metric.WithDescription("Publish calls by backend and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating beachhead.publishes counter: %w", err)
	}

	errorsTotal, err := meter.Int64Counter("beachhead.errors",
		metric.WithDescription("Recoverable errors by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating beachhead.errors counter: %w", err)
	}

	return &Metrics{
		ticks:        ticks,
		tickDuration: tickDuration,
		declarations: declarations,
		records:      records,
		publishes:    publishes,
		errors:       errorsTotal,
	}, nil
}

// NewGlobalMetrics creates the instruments on the global meter provider.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// RecordTick records a completed tick.
func (m *Metrics) RecordTick(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ticks.Add(ctx, 1, attrs)
	m.tickDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDeclaration counts one declaration by outcome: "parsed", "partial",
// "invalid" or "missing".
func (m *Metrics) RecordDeclaration(ctx context.Context, outcome string) {
	m.declarations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRecords counts records derived in a tick.
func (m *Metrics) RecordRecords(ctx context.Context, n int) {
	m.records.Add(ctx, int64(n))
}

// RecordPublish counts one publish call.
func (m *Metrics) RecordPublish(ctx context.Context, backend, status string) {
	m.publishes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	))
}

// RecordError counts a recoverable error by kind ("inspect", "parse", "publish").
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
