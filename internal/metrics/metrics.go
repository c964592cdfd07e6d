package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors for SDK self-telemetry.
// They are registered via Register; all helpers no-op until then,
// so instrumented applications that do not care about Prometheus
// pay nothing.
var (
	regOK atomic.Bool

	itemsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "queue",
			Name:      "items_sent_total",
			Help:      "Work items delivered to the collector.",
		}, []string{"kind"},
	)
	itemsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "queue",
			Name:      "items_dropped_total",
			Help:      "Work items discarded because the queue was full.",
		}, []string{"kind"},
	)
	deliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "queue",
			Name:      "delivery_failures_total",
			Help:      "Delivery attempts that failed with a transport error.",
		}, []string{"kind"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datacat",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of queued work items.",
		},
	)
	hangs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "heartbeat",
			Name:      "hangs_total",
			Help:      "Hang episodes detected by the liveness monitor.",
		},
	)
	recoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "heartbeat",
			Name:      "recoveries_total",
			Help:      "Recoveries observed after a hang episode.",
		},
	)
	daemonStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "daemon",
			Name:      "starts_total",
			Help:      "Successful collector daemon launches.",
		},
	)
	daemonStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "daemon",
			Name:      "stops_total",
			Help:      "Collector daemon stops (graceful or kill).",
		},
	)
	spoolAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "spool",
			Name:      "appends_total",
			Help:      "Work items written to the offline spool.",
		},
	)
	spoolDrains = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "spool",
			Name:      "drains_total",
			Help:      "Spooled work items redelivered successfully.",
		},
	)
)

// Register registers all collectors with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		itemsSent, itemsDropped, deliveryFailures, queueDepth,
		hangs, recoveries, daemonStarts, daemonStops, spoolAppends, spoolDrains,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. No-ops until Register.

func IncSent(kind string) {
	if regOK.Load() {
		itemsSent.WithLabelValues(kind).Inc()
	}
}

func IncDropped(kind string) {
	if regOK.Load() {
		itemsDropped.WithLabelValues(kind).Inc()
	}
}

func IncDeliveryFailure(kind string) {
	if regOK.Load() {
		deliveryFailures.WithLabelValues(kind).Inc()
	}
}

func SetQueueDepth(n int) {
	if regOK.Load() {
		queueDepth.Set(float64(n))
	}
}

func IncHang() {
	if regOK.Load() {
		hangs.Inc()
	}
}

func IncRecovery() {
	if regOK.Load() {
		recoveries.Inc()
	}
}

func IncDaemonStart() {
	if regOK.Load() {
		daemonStarts.Inc()
	}
}

func IncDaemonStop() {
	if regOK.Load() {
		daemonStops.Inc()
	}
}

func IncSpoolAppend() {
	if regOK.Load() {
		spoolAppends.Inc()
	}
}

func IncSpoolDrain() {
	if regOK.Load() {
		spoolDrains.Inc()
	}
}
