package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reqgate/internal/config"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.True(t, tel.Health().Degraded)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled local", func(c *Config) { c.Enabled = true }, false},
		{"enabled local with scheme", func(c *Config) { c.Enabled = true; c.Endpoint = "http://127.0.0.1:4318"; c.Protocol = ProtocolHTTP }, false},
		{"ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, true},
		{"no endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromPolicy(t *testing.T) {
	cfg := FromPolicy(config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "localhost:4318",
		Protocol: ProtocolHTTP,
		Insecure: true,
	}, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "reqgate", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())
}

func TestTestTelemetry_RecordsSpansAndCounters(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("test").Start(ctx, "op")
	span.End()
	assert.NotNil(t, tel.SpanByName("op"))

	counter, err := tel.Meter("test").Int64Counter("things_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)
	assert.Equal(t, int64(3), tel.CounterValue(t, "things_total", "", ""))
}

func TestHealth_ReportsPipelines(t *testing.T) {
	tel := NewTestTelemetry()
	h := tel.Health()
	assert.True(t, h.Enabled)
	assert.False(t, h.Degraded)
	assert.Equal(t, map[string]string{SignalTraces: StateExporting, SignalMetrics: StateExporting}, h.Signals)
	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.LoggerProvider())

	require.NoError(t, tel.Shutdown(context.Background()))
	h = tel.Health()
	assert.Equal(t, StateStopped, h.Signals[SignalTraces])
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.ForceFlush(context.Background()), "stopped pipelines are skipped")
}

func TestHealth_FailedPipelineDegrades(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	tel := &Telemetry{config: cfg, pipelines: []*pipeline{
		{name: SignalTraces, state: StateFailed, err: errors.New("dial collector: refused")},
		{name: SignalMetrics, state: StateOff},
	}}
	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Contains(t, h.Error, "refused")
	assert.Equal(t, StateOff, h.Signals[SignalMetrics])
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
}
