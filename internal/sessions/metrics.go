package sessions

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalCounters *Counters
	countersOnce   sync.Once
)

// Counters holds Prometheus counters for the session collector.
type Counters struct {
	EventsTotal     *prometheus.CounterVec
	SealedTotal     prometheus.Counter
	LateEventsTotal prometheus.Counter
}

// NewCounters registers the collector counters with the default registry.
// Registration happens once per process; later calls share the same
// counters.
//
// Metrics:
//   - reqgate_session_events_total{event_type} - events recorded
//   - reqgate_session_sealed_total - sessions sealed
//   - reqgate_session_late_events_total - events rejected by the reorder window
func NewCounters() *Counters {
	countersOnce.Do(func() {
		globalCounters = &Counters{
			EventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reqgate_session_events_total",
					Help: "Total number of session events recorded",
				},
				[]string{"event_type"},
			),
			SealedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "reqgate_session_sealed_total",
				Help: "Total number of sessions sealed",
			}),
			LateEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "reqgate_session_late_events_total",
				Help: "Total number of events dropped for arriving outside the reorder window",
			}),
		}
	})
	return globalCounters
}
