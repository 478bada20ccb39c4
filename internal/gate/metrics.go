package gate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/reqgate/internal/gate"

// Metrics provides OpenTelemetry metrics for gate evaluation.
type Metrics struct {
	decisionsTotal metric.Int64Counter
	effectsTotal   metric.Int64Counter
	duration       metric.Float64Histogram
}

// NewMetrics creates gate metrics. If meter is nil the global provider is used.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &Metrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"reqgate.gate.decisions_total",
		metric.WithDescription("Gate decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	m.effectsTotal, err = meter.Int64Counter(
		"reqgate.gate.effects_total",
		metric.WithDescription("Requirement state changes caused by the gate"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"reqgate.gate.evaluate.duration",
		metric.WithDescription("Duration of gate evaluation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) record(ctx context.Context, d *Decision, elapsed time.Duration) {
	if m == nil {
		return
	}
	failClosed := len(d.Reasons) == 1 && d.Reasons[0].Key == ReasonStorageUnavailable
	attrs := metric.WithAttributes(
		attribute.String("decision", d.Decision),
		attribute.Bool("fail_closed", failClosed),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	for _, e := range d.Effects {
		m.effectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(e.To))))
	}
}
