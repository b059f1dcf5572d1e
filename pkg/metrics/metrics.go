// Package metrics exposes prometheus collectors for streams and the relay
// worker. Collectors are registered with the default registry on first use.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EmilyShepherd/vumi-bridge-go/types"
)

const namespace = "vumi_bridge"

var (
	registerOnce sync.Once

	streamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Stream events delivered to consumers, by type.",
		},
		[]string{"type"},
	)
	streamDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Terminal stream disconnects, by cause.",
		},
		[]string{"cause"},
	)
	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "read_bytes_total",
			Help:      "Bytes read from stream response bodies.",
		},
	)
	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Streams currently open.",
		},
	)
	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Messages forwarded by the relay worker.",
		},
		[]string{"status", "success"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Relay request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(streamEvents, streamDisconnects, streamBytes, streamsActive, relayRequests, relayDuration)
	})
}

func RecordEvent(t types.EventType) {
	RegisterMetrics()
	streamEvents.WithLabelValues(string(t)).Inc()
}

// RecordDisconnect counts a terminal disconnect. Transport failures are
// grouped under a single cause to keep label cardinality bounded.
func RecordDisconnect(d types.Disconnect) {
	RegisterMetrics()
	cause := "transport"
	switch {
	case d.Clean():
		cause = types.ReasonClean
	case d.Cancelled():
		cause = types.ReasonCancelled
	}
	streamDisconnects.WithLabelValues(cause).Inc()
}

func RecordBytes(n int) {
	RegisterMetrics()
	streamBytes.Add(float64(n))
}

func StreamOpened() {
	RegisterMetrics()
	streamsActive.Inc()
}

func StreamClosed() {
	RegisterMetrics()
	streamsActive.Dec()
}

func RecordRelay(status int, duration time.Duration, success bool) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	successLabel := strconv.FormatBool(success)
	relayRequests.WithLabelValues(statusLabel, successLabel).Inc()
	relayDuration.WithLabelValues(statusLabel, successLabel).Observe(duration.Seconds())
}
