// Package instrument exports the component's own operational counters
// through OpenTelemetry.
package instrument

import (
	"context"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ScopeName      = "codeberg.org/mutker/telemetryd"
	exportInterval = 15 * time.Second
)

// Shutdown flushes and stops the exporter.
type Shutdown func(ctx context.Context) error

// Init installs a global meter provider exporting over OTLP/HTTP. An
// empty endpoint leaves the no-op provider in place.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	errFactory := errors.New()

	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval)),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Meter returns the global meter for this module.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(ScopeName)
}

// Instruments groups the counters recorded by the sampling loop and the
// command path. A nil *Instruments records nothing.
type Instruments struct {
	emitted        metric.Int64Counter
	suppressed     metric.Int64Counter
	commands       metric.Int64Counter
	sampleFailures metric.Int64Counter
	sampleDuration metric.Float64Histogram
}

func New(meter metric.Meter) (*Instruments, error) {
	errFactory := errors.New()

	var (
		i   Instruments
		err error
	)

	if i.emitted, err = meter.Int64Counter("telemetryd.telemetry.emitted",
		metric.WithDescription("Telemetry events published")); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if i.suppressed, err = meter.Int64Counter("telemetryd.telemetry.suppressed",
		metric.WithDescription("Samples the gate held back")); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if i.commands, err = meter.Int64Counter("telemetryd.commands",
		metric.WithDescription("Commands handled by action and outcome")); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if i.sampleFailures, err = meter.Int64Counter("telemetryd.sample.failures",
		metric.WithDescription("Ticks skipped because the source failed")); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if i.sampleDuration, err = meter.Float64Histogram("telemetryd.sample.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent reading the source")); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	return &i, nil
}

func (i *Instruments) Emitted(ctx context.Context, name string) {
	if i == nil {
		return
	}
	i.emitted.Add(ctx, 1, metric.WithAttributes(attribute.String("metric", name)))
}

func (i *Instruments) Suppressed(ctx context.Context, name string) {
	if i == nil {
		return
	}
	i.suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("metric", name)))
}

func (i *Instruments) Command(ctx context.Context, action string, ok bool) {
	if i == nil {
		return
	}
	i.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("ok", ok),
	))
}

func (i *Instruments) SampleFailed(ctx context.Context) {
	if i == nil {
		return
	}
	i.sampleFailures.Add(ctx, 1)
}

func (i *Instruments) SampleDuration(ctx context.Context, d time.Duration) {
	if i == nil {
		return
	}
	i.sampleDuration.Record(ctx, float64(d.Microseconds())/1000)
}
