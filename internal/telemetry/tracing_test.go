package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// TestInitTracerProvider checks that the global provider and propagators
// are installed.
func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), "parmon-test")
	require.NoError(t, err)
	require.NotNil(t, tp)
	t.Cleanup(func() {
		require.NoError(t, tp.Shutdown(context.Background()))
	})

	require.Equal(t, tp, otel.GetTracerProvider())

	fields := otel.GetTextMapPropagator().Fields()
	require.Contains(t, fields, "traceparent")
	require.Contains(t, fields, "baggage")
}
