package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"asdscreen/config"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{ServiceName: "test-service"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx), "noop shutdown ignores cancelled context")
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "test-service",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestTracerAvailableBeforeSetup(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "smoke")
	span.End()
}
