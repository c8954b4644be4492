package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestMetrics_CountersRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.Decision(ctx, "entry", true)
	m.Decision(ctx, "entry", true)
	m.Decision(ctx, "exit", false)
	m.Capture(ctx, "timeout")
	m.HardwareFailure(ctx, "open_gate")
	m.Broadcast(ctx, 3)
	m.Noise(ctx, "exit", "suppressed")

	got := collect(t, reader)

	decisions := got["lotgate.decisions"]
	require.Len(t, decisions.DataPoints, 2)
	for _, dp := range decisions.DataPoints {
		lane, _ := dp.Attributes.Value(attribute.Key("lane"))
		switch lane.AsString() {
		case "entry":
			assert.Equal(t, int64(2), dp.Value)
		case "exit":
			assert.Equal(t, int64(1), dp.Value)
		default:
			t.Errorf("unexpected lane %q", lane.AsString())
		}
	}

	require.Len(t, got["lotgate.payment.captures"].DataPoints, 1)
	require.Len(t, got["lotgate.hardware.failures"].DataPoints, 1)
	assert.Equal(t, int64(3), got["lotgate.monitor.broadcasts"].DataPoints[0].Value)
	assert.Equal(t, int64(1), got["lotgate.recognition.noise"].DataPoints[0].Value)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.Metrics
	assert.NotPanics(t, func() {
		m.Decision(context.Background(), "entry", true)
		m.Capture(context.Background(), "ack")
		m.HardwareFailure(context.Background(), "alert")
		m.Broadcast(context.Background(), 1)
		m.Noise(context.Background(), "entry", "invalid")
	})
}

func TestNewMeterProvider_NoEndpointIsNoop(t *testing.T) {
	mp, shutdown, err := telemetry.NewMeterProvider(context.Background(), "", "entry")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	_, err = telemetry.NewMetrics(mp)
	assert.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		logger, err := telemetry.NewLogger(env, "exit")
		require.NoError(t, err, env)
		require.NotNil(t, logger)
		_ = logger.Sync()
	}
}
