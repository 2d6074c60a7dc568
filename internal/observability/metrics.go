package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bragi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status endpoint.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bragi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	syncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bragi",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Music Assistant events received by the favorite bridge.",
		},
		[]string{"player", "event"},
	)
	syncPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bragi",
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Favorite state pushes to Home Assistant.",
		},
		[]string{"player", "state", "success"},
	)
	syncReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bragi",
			Subsystem: "sync",
			Name:      "reconnects_total",
			Help:      "Music Assistant connection failures followed by a reconnect delay.",
		},
		[]string{"player"},
	)
	syncConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bragi",
			Subsystem: "sync",
			Name:      "connected",
			Help:      "1 while the Music Assistant event stream is connected.",
		},
		[]string{"player"},
	)
	syncPushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bragi",
			Subsystem: "sync",
			Name:      "push_duration_seconds",
			Help:      "Home Assistant service call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"player", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			syncEvents,
			syncPushes,
			syncReconnects,
			syncConnected,
			syncPushDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSyncEvent(player, event string) {
	RegisterMetrics()
	syncEvents.WithLabelValues(player, event).Inc()
}

func RecordFavoritePush(player string, state bool, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	syncPushes.WithLabelValues(player, strconv.FormatBool(state), successLabel).Inc()
	syncPushDuration.WithLabelValues(player, successLabel).Observe(duration.Seconds())
}

func RecordReconnect(player string) {
	RegisterMetrics()
	syncReconnects.WithLabelValues(player).Inc()
}

func SetConnected(player string, connected bool) {
	RegisterMetrics()
	v := 0.0
	if connected {
		v = 1
	}
	syncConnected.WithLabelValues(player).Set(v)
}
