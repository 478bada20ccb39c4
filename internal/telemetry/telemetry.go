package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Signal names used in HealthStatus.
const (
	SignalTraces  = "traces"
	SignalMetrics = "metrics"
)

// Signal states.
const (
	StateOff       = "off"
	StateExporting = "exporting"
	StateFailed    = "failed"
	StateStopped   = "stopped"
)

// pipeline is one exported signal.
type pipeline struct {
	name     string
	state    string
	err      error
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

// Telemetry owns the trace and metric pipelines for one reqgate process.
// A gate decision never waits on export: a pipeline whose exporter could not
// be built stays on the global no-op provider and is reported as failed.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	mu        sync.Mutex
	pipelines []*pipeline
}

// New builds telemetry from cfg. A disabled config yields an instance whose
// tracers and meters come from the global providers.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	traces := &pipeline{name: SignalTraces, state: StateExporting}
	if exp, err := newSpanExporter(ctx, cfg); err != nil {
		traces.state, traces.err = StateFailed, wrapExporterErr("trace", err)
	} else {
		t.tracerProvider = newTracerProvider(cfg, res, exp)
		traces.flush, traces.shutdown = t.tracerProvider.ForceFlush, t.tracerProvider.Shutdown
		otel.SetTracerProvider(t.tracerProvider)
	}
	t.pipelines = append(t.pipelines, traces)

	metrics := &pipeline{name: SignalMetrics, state: StateOff}
	if cfg.MetricsEnabled {
		metrics.state = StateExporting
		if exp, err := newMetricExporter(ctx, cfg); err != nil {
			metrics.state, metrics.err = StateFailed, wrapExporterErr("metric", err)
		} else {
			t.meterProvider = newMeterProvider(cfg, res, exp)
			metrics.flush, metrics.shutdown = t.meterProvider.ForceFlush, t.meterProvider.Shutdown
			otel.SetMeterProvider(t.meterProvider)
		}
	}
	t.pipelines = append(t.pipelines, metrics)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer from the exporting provider, or the global one.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter from the exporting provider, or the global one.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the provider for the otelzap bridge: the global
// log provider when telemetry is enabled, nil otherwise.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if !t.IsEnabled() {
		return nil
	}
	return logglobal.GetLoggerProvider()
}

// ForceFlush exports pending spans and metrics.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.each(ctx, "flush", func(p *pipeline) func(context.Context) error { return p.flush })
}

// Shutdown flushes and stops every pipeline. Without a deadline on ctx the
// configured shutdown wait applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownWait)
		defer cancel()
	}
	err := t.each(ctx, "shutdown", func(p *pipeline) func(context.Context) error { return p.shutdown })
	t.mu.Lock()
	for _, p := range t.pipelines {
		if p.state == StateExporting {
			p.state = StateStopped
		}
	}
	t.mu.Unlock()
	return err
}

func (t *Telemetry) each(ctx context.Context, verb string, pick func(*pipeline) func(context.Context) error) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, p := range t.pipelines {
		fn := pick(p)
		if fn == nil || p.state != StateExporting {
			continue
		}
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", p.name, verb, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus is the telemetry part of the server health report.
type HealthStatus struct {
	Enabled  bool              `json:"enabled"`
	Degraded bool              `json:"degraded"`
	Signals  map[string]string `json:"signals,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Health reports the state of each pipeline. Any failed pipeline marks the
// whole instance degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true, Error: "telemetry not initialized"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := HealthStatus{Enabled: t.config.Enabled}
	if len(t.pipelines) > 0 {
		h.Signals = make(map[string]string, len(t.pipelines))
	}
	var errs []error
	for _, p := range t.pipelines {
		h.Signals[p.name] = p.state
		if p.state == StateFailed {
			h.Degraded = true
			errs = append(errs, p.err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.Error = err.Error()
	}
	return h
}

// IsEnabled reports whether telemetry is configured on and at least one
// pipeline is exporting.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil || !t.config.Enabled {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pipelines {
		if p.state == StateExporting {
			return true
		}
	}
	return false
}
