package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "net",
			Name:      "frames_sent_total",
			Help:      "Datagrams handed to the transport, by kind.",
		},
		[]string{"node", "kind", "ok"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "net",
			Name:      "frames_received_total",
			Help:      "Inbound datagrams by kind and dispatch outcome.",
		},
		[]string{"node", "kind", "outcome"},
	)
	safeRetransmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "safe",
			Name:      "retransmits_total",
			Help:      "Safe datagrams resent after the resend interval.",
		},
		[]string{"node"},
	)
	safeDeliveryFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "safe",
			Name:      "delivery_failed_total",
			Help:      "Safe sends dropped after exhausting retries.",
		},
		[]string{"node"},
	)
	safeDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "safe",
			Name:      "duplicates_total",
			Help:      "Inbound safe datagrams suppressed as duplicates.",
		},
		[]string{"node"},
	)
	handshakeRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "handshake",
			Name:      "rejected_total",
			Help:      "JOIN exchanges rejected, by reason.",
		},
		[]string{"node", "reason"},
	)
	transportDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Inbound datagrams discarded before dispatch, by reason.",
		},
		[]string{"transport", "reason"},
	)
	peers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relink",
			Subsystem: "net",
			Name:      "peers",
			Help:      "Peers currently in the roster.",
		},
		[]string{"node"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	safeAckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relink",
			Subsystem: "safe",
			Name:      "ack_latency_seconds",
			Help:      "Time from first safe send to its ACK.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, safeRetransmits, safeDeliveryFailed,
			safeDuplicates, handshakeRejected, transportDropped, peers, safeAckLatency,
			httpRequests, httpDuration,
		)
	})
}

func RecordFrameSent(node, kind string, ok bool) {
	RegisterMetrics()
	framesSent.WithLabelValues(node, kind, strconv.FormatBool(ok)).Inc()
}

func RecordFrameReceived(node, kind, outcome string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(node, kind, outcome).Inc()
}

func RecordRetransmits(node string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	safeRetransmits.WithLabelValues(node).Add(float64(n))
}

func RecordDeliveryFailed(node string) {
	RegisterMetrics()
	safeDeliveryFailed.WithLabelValues(node).Inc()
}

func RecordDuplicate(node string) {
	RegisterMetrics()
	safeDuplicates.WithLabelValues(node).Inc()
}

func RecordHandshakeRejected(node, reason string) {
	RegisterMetrics()
	handshakeRejected.WithLabelValues(node, reason).Inc()
}

func RecordTransportDropped(transport, reason string) {
	RegisterMetrics()
	transportDropped.WithLabelValues(transport, reason).Inc()
}

func SetPeers(node string, n int) {
	RegisterMetrics()
	peers.WithLabelValues(node).Set(float64(n))
}

func RecordAckLatency(node string, d time.Duration) {
	RegisterMetrics()
	safeAckLatency.WithLabelValues(node).Observe(d.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
