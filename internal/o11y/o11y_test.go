package o11y

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpoints(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "")

	shutdown, err := SetupTracing(t.Context())
	require.NoError(t, err)
	require.NoError(t, shutdown(t.Context()))

	handler, shutdown, err := SetupLogging(t.Context())
	require.NoError(t, err)
	require.Nil(t, handler)
	require.NoError(t, shutdown(t.Context()))
}
