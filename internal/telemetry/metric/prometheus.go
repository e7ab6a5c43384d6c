package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsEvicted prometheus.Counter

	// Tick metrics
	TickDuration *prometheus.HistogramVec
	TicksDelayed *prometheus.CounterVec
	TicksFailed  *prometheus.CounterVec

	// Replication metrics
	FramesSent         *prometheus.CounterVec
	BackpressureCloses prometheus.Counter
	Subscriptions      prometheus.Gauge

	// Query metrics
	QueryDuration prometheus.Histogram
	QueryErrors   prometheus.Counter

	// Bridge metrics
	BridgeReconnects    prometheus.Counter
	NotificationsRouted prometheus.Counter
}

// NewRegistry creates a new metrics registry with all collectors
// registered, including the standard Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{reg: reg}

	r.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldsync",
		Name:      "sessions_active",
		Help:      "Number of sessions currently bound to a connection.",
	})
	r.SessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "sessions_evicted_total",
		Help:      "Sessions evicted by the heartbeat sweep.",
	})

	r.TickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worldsync",
		Name:      "tick_duration_seconds",
		Help:      "Tick capture duration per sync group.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"sync_group"})
	r.TicksDelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "ticks_delayed_total",
		Help:      "Ticks whose capture overran the group interval.",
	}, []string{"sync_group"})
	r.TicksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "ticks_failed_total",
		Help:      "Ticks abandoned due to store errors.",
	}, []string{"sync_group"})

	r.FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "frames_sent_total",
		Help:      "WebSocket frames enqueued per frame type.",
	}, []string{"type"})
	r.BackpressureCloses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "backpressure_closes_total",
		Help:      "Connections closed because their outbound queue overflowed.",
	})
	r.Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldsync",
		Name:      "subscriptions",
		Help:      "Current session to sync group subscription count.",
	})

	r.QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worldsync",
		Name:      "query_duration_seconds",
		Help:      "Client query execution duration.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	r.QueryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "query_errors_total",
		Help:      "Client queries that returned an error.",
	})

	r.BridgeReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "bridge_reconnects_total",
		Help:      "Notification bridge listener reconnects.",
	})
	r.NotificationsRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldsync",
		Name:      "notifications_routed_total",
		Help:      "Store notifications routed to a session queue.",
	})

	reg.MustRegister(
		r.SessionsActive, r.SessionsEvicted,
		r.TickDuration, r.TicksDelayed, r.TicksFailed,
		r.FramesSent, r.BackpressureCloses, r.Subscriptions,
		r.QueryDuration, r.QueryErrors,
		r.BridgeReconnects, r.NotificationsRouted,
	)

	return r
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
