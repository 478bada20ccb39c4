package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/gate"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
)

// InstrumentationName names the meter for HTTP metrics.
const InstrumentationName = "github.com/fyrsmithlabs/reqgate/internal/http"

// decisionKey is the echo context key a handler sets to the gate decision it
// returned, so request metrics can tell blocks from allows.
const decisionKey = "reqgate.decision"

// HTTPMetrics records per-route request metrics for the daemon.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on meter, or on the global meter
// when meter is nil. An instrument that cannot be created is left unset and
// logged; requests are still served.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.Nop()
	}
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &HTTPMetrics{}
	var errs []error
	var err error
	if m.requests, err = meter.Int64Counter("reqgate.http.requests_total",
		metric.WithDescription("HTTP requests by method, route, status and gate decision."),
		metric.WithUnit("{request}")); err != nil {
		errs = append(errs, err)
	}
	// Hook round trips are on the agent's critical path, so the buckets stay
	// fine-grained below 100ms.
	if m.duration, err = meter.Float64Histogram("reqgate.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 2)); err != nil {
		errs = append(errs, err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter("reqgate.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}")); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "http metrics partially unavailable", zap.Error(err))
	}
	return m
}

// MetricsMiddleware records every request. Handler errors are rendered here
// through the server's error handler so the final status is labeled.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			attrs := []attribute.KeyValue{
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeOf(c)),
				attribute.Int("status", c.Response().Status),
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
			if d, ok := c.Get(decisionKey).(string); ok {
				attrs = append(attrs, attribute.String("decision", d))
			}
			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			return nil
		}
	}
}

// markDecision tags the request with the gate outcome for MetricsMiddleware.
func markDecision(c echo.Context, d *gate.Decision) {
	if d != nil {
		c.Set(decisionKey, d.Decision)
	}
}

// routeOf returns the matched route pattern (/api/v1/sessions/:id/end), never
// the raw path, so session ids do not become label values.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
