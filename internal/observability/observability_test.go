package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"reviewgate/internal/models"
	"reviewgate/internal/version"
)

var testVersion = version.Info{Version: "v0.4.0", InstanceID: "test-instance", Hostname: "test-host"}

func TestSetup_MetricsOnly(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{ServiceName: "reviewgate-test"}

	provider, err := Setup(metrics, obs, testVersion)
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NotNil(t, provider.promExporter)
	assert.NotNil(t, provider.Registry())
	assert.Nil(t, provider.tracerProvider)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_TracingStdout(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "reviewgate-test",
		Tracing: models.TracingConfig{
			Enabled:    true,
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, testVersion)
	require.NoError(t, err)
	assert.NotNil(t, provider.tracerProvider)
	assert.Nil(t, provider.promExporter)
	assert.Nil(t, provider.Registry())

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_RepeatedCallsUseFreshRegistries(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics"}
	obs := models.ObservabilityConfig{ServiceName: "reviewgate-test"}

	first, err := Setup(metrics, obs, testVersion)
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	second, err := Setup(metrics, obs, testVersion)
	require.NoError(t, err)
	defer second.Shutdown(context.Background())

	assert.NotSame(t, first.Registry(), second.Registry())
}

func TestSetup_BothDisabled(t *testing.T) {
	provider, err := Setup(models.MetricsConfig{}, models.ObservabilityConfig{}, version.Info{})
	require.NoError(t, err)
	assert.Nil(t, provider.tracerProvider)
	assert.Nil(t, provider.meterProvider)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "reviewgate-test",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1.0},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, testVersion)
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(2.0).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("DEPLOYMENT_ENV", "")
	assert.Equal(t, "development", environment())

	t.Setenv("DEPLOYMENT_ENV", "staging")
	assert.Equal(t, "staging", environment())

	t.Setenv("ENVIRONMENT", "production")
	assert.Equal(t, "production", environment())
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	assert.NoError(t, (&Provider{}).Shutdown(context.Background()))
}
