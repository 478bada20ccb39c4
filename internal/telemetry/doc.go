// Package telemetry sets up OpenTelemetry tracer and meter providers.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP) to a collector. Provider failures degrade to
// no-op instrumentation instead of failing the gate.
//
//	tel, err := telemetry.New(ctx, cfg)
//	defer tel.Shutdown(ctx)
//	metrics, err := gate.NewMetrics(tel.Meter(gate.InstrumentationName))
package telemetry
