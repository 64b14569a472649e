package rooms

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsync"

var joinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "joins_total",
	Help:      "Sessions that joined a document and received its snapshot",
})

var rejectedJoinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "rejected_joins_total",
	Help:      "Join requests rejected for a malformed document id or a repeated join",
})

var relayedOperationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "relayed_operations_total",
	Help:      "Edit operations delivered to a room member",
})

var persistsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "persists_total",
	Help:      "Snapshot writes by result",
}, []string{"result"})

var loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "load_failures_total",
	Help:      "Snapshot loads that failed and fell back to an empty document",
})

var evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "evictions_total",
	Help:      "Sessions dropped because they could not keep up",
})

var activeRooms = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "active_rooms",
	Help:      "Documents with at least one joined session",
})

var activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "active_sessions",
	Help:      "Sessions joined to a document",
})

// RegisterMetrics registers the room manager collectors with reg. Collectors
// that are already registered are left alone.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		joinsTotal,
		rejectedJoinsTotal,
		relayedOperationsTotal,
		persistsTotal,
		loadFailuresTotal,
		evictionsTotal,
		activeRooms,
		activeSessions,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
