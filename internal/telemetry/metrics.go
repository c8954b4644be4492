package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/BrandonDHaskell/lotgate"

// Metrics holds the counters every agent reports into.  A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	decisions        metric.Int64Counter
	captures         metric.Int64Counter
	hardwareFailures metric.Int64Counter
	broadcasts       metric.Int64Counter
	noise            metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.decisions, err = meter.Int64Counter("lotgate.decisions",
		metric.WithDescription("Admission decisions by lane and outcome"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, fmt.Errorf("decisions counter: %w", err)
	}
	if m.captures, err = meter.Int64Counter("lotgate.payment.captures",
		metric.WithDescription("Payment capture attempts by outcome"),
		metric.WithUnit("{capture}"),
	); err != nil {
		return nil, fmt.Errorf("captures counter: %w", err)
	}
	if m.hardwareFailures, err = meter.Int64Counter("lotgate.hardware.failures",
		metric.WithDescription("Hardware commands that could not be delivered"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("hardware counter: %w", err)
	}
	if m.broadcasts, err = meter.Int64Counter("lotgate.monitor.broadcasts",
		metric.WithDescription("Snapshots pushed to dashboard subscribers"),
		metric.WithUnit("{snapshot}"),
	); err != nil {
		return nil, fmt.Errorf("broadcasts counter: %w", err)
	}
	if m.noise, err = meter.Int64Counter("lotgate.recognition.noise",
		metric.WithDescription("Recognition reads dropped as noise or suppressed"),
		metric.WithUnit("{read}"),
	); err != nil {
		return nil, fmt.Errorf("noise counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) Decision(ctx context.Context, lane string, granted bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lane", lane),
		attribute.Bool("granted", granted),
	))
}

func (m *Metrics) Capture(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.captures.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) HardwareFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.hardwareFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) Broadcast(ctx context.Context, delivered int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, int64(delivered))
}

func (m *Metrics) Noise(ctx context.Context, lane, kind string) {
	if m == nil {
		return
	}
	m.noise.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lane", lane),
		attribute.String("kind", kind),
	))
}

// NewMeterProvider exports over OTLP/gRPC when endpoint is set and
// returns a no-op provider otherwise.  shutdown is always non-nil.
func NewMeterProvider(ctx context.Context, endpoint, agent string) (metric.MeterProvider, func(context.Context) error, error) {
	if endpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "lotgate"),
		attribute.String("lotgate.agent", agent),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	return mp, mp.Shutdown, nil
}
