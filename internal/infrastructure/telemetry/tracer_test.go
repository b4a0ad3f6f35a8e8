package telemetry_test

import (
	"context"
	"testing"

	"github.com/erp/stockrecon/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// restoreGlobalProvider puts back the global provider replaced by a test
func restoreGlobalProvider(t *testing.T) {
	t.Helper()
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := telemetry.Config{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "stockrecon-test",
	}

	tp, err := telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.Equal(t, "stockrecon-test", tp.GetConfig().ServiceName)
	assert.Equal(t, otel.GetTracerProvider(), tp.Provider())
	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProviderWithExporter(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := telemetry.NewTracerProviderWithExporter(telemetry.Config{
		SamplingRatio: 1.0,
		ServiceName:   "stockrecon-test",
	}, exporter, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, tp.IsEnabled())
	assert.Equal(t, tp.Provider(), otel.GetTracerProvider(), "installed globally")

	_, span := tp.Tracer("test").Start(ctx, "allocate")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "allocate", spans[0].Name)

	require.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProviderWithExporter_NeverSample(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := telemetry.NewTracerProviderWithExporter(telemetry.Config{
		SamplingRatio: 0,
		ServiceName:   "stockrecon-test",
	}, exporter, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "dropped")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))
	assert.Empty(t, exporter.GetSpans())

	require.NoError(t, tp.Shutdown(ctx))
}
