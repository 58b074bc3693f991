package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for feedLines
const (
	OutcomeServerComment = "server_comment"
	OutcomeParseError    = "parse_error"
	OutcomeUnknownData   = "unknown_data"
	OutcomeDisplayed     = "displayed"
	OutcomeSuppressed    = "suppressed"
)

var (
	registerOnce sync.Once

	feedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ognfeed",
			Subsystem: "feed",
			Name:      "lines_total",
			Help:      "Feed lines read, by classification outcome.",
		},
		[]string{"outcome"},
	)
	feedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ognfeed",
			Subsystem: "feed",
			Name:      "bytes_total",
			Help:      "Bytes read from the feed.",
		},
	)
	feedIdentified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ognfeed",
			Subsystem: "feed",
			Name:      "identified_total",
			Help:      "Position reports carrying an OGN identity, by aircraft type.",
		},
		[]string{"aircraft_type"},
	)
	feedSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ognfeed",
			Subsystem: "feed",
			Name:      "sessions_total",
			Help:      "Feed sessions started.",
		},
	)
	feedLoginVerified = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ognfeed",
			Subsystem: "feed",
			Name:      "login_verified",
			Help:      "1 when the server reported the current login as verified.",
		},
	)
	sinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ognfeed",
			Subsystem: "sink",
			Name:      "failures_total",
			Help:      "Events a sink failed to deliver.",
		},
		[]string{"sink"},
	)
	hubClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ognfeed",
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		},
	)
)

// RegisterMetrics registers the collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(feedLines, feedBytes, feedIdentified, feedSessions, feedLoginVerified, sinkFailures, hubClients)
	})
}

// RecordSinkFailure counts an event a sink could not deliver
func RecordSinkFailure(sink string) {
	RegisterMetrics()
	sinkFailures.WithLabelValues(sink).Inc()
}

// SetHubClients reports the number of connected WebSocket clients
func SetHubClients(n int) {
	RegisterMetrics()
	hubClients.Set(float64(n))
}

// SinkFailures exposes the per-sink failure counter
func SinkFailures() *prometheus.CounterVec {
	return sinkFailures
}
