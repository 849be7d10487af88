// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browser_gateway_build_info",
			Help: "Build information",
		},
		[]string{"version"},
	)

	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_gateway_session_transitions_total",
			Help: "Browser session status transitions",
		},
		[]string{"status"},
	)

	openBrowsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_gateway_open_browsers",
			Help: "Browser instances currently held by sessions",
		},
	)

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_gateway_actions_total",
			Help: "Browser actions executed",
		},
		[]string{"action", "outcome"},
	)

	actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browser_gateway_action_duration_seconds",
			Help:    "Browser action duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	liveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browser_gateway_live_connections",
			Help: "Peer connections with a live transport",
		},
		[]string{"transport"},
	)

	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_gateway_messages_total",
			Help: "Protocol messages recorded",
		},
		[]string{"direction", "type"},
	)

	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browser_gateway_decode_failures_total",
			Help: "Inbound frames that could not be decoded",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, sessionTransitions, openBrowsers, actions, actionDuration, liveConnections, messages, decodeFailures)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// RecordSessionStatus counts a session entering status.
func RecordSessionStatus(status string) {
	sessionTransitions.WithLabelValues(status).Inc()
}

// BrowserOpened increments the open browser gauge.
func BrowserOpened() {
	openBrowsers.Inc()
}

// BrowserClosed decrements the open browser gauge.
func BrowserClosed() {
	openBrowsers.Dec()
}

// RecordAction counts one executed action and observes its duration.
func RecordAction(action string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	actions.WithLabelValues(action, outcome).Inc()
	actionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// ConnectionOpened increments the live connection gauge for transport.
func ConnectionOpened(transport string) {
	liveConnections.WithLabelValues(transport).Inc()
}

// ConnectionClosed decrements the live connection gauge for transport.
func ConnectionClosed(transport string) {
	liveConnections.WithLabelValues(transport).Dec()
}

// RecordMessage counts one recorded protocol message.
func RecordMessage(direction, messageType string) {
	messages.WithLabelValues(direction, messageType).Inc()
}

// RecordDecodeFailure counts one discarded inbound frame.
func RecordDecodeFailure() {
	decodeFailures.Inc()
}
