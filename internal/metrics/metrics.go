// Package metrics provides Prometheus metrics for the FTP gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitftp_sessions_open",
			Help: "Number of currently open FTP control connections",
		},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitftp_logins_total",
			Help: "Total number of login attempts",
		},
		[]string{"outcome"},
	)

	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitftp_commands_total",
			Help: "Total number of FTP commands handled",
		},
		[]string{"verb", "outcome"},
	)

	// Transfer metrics
	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitftp_transfer_bytes_total",
			Help: "Total bytes moved over data channels",
		},
		[]string{"direction"},
	)

	// Remote API metrics
	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitftp_remote_calls_total",
			Help: "Total number of calls to the hosting API",
		},
		[]string{"op", "outcome"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gitftp_remote_call_duration_seconds",
			Help:    "Hosting API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// SessionOpened records a new control connection.
func SessionOpened() {
	sessionsOpen.Inc()
}

// SessionClosed records a closed control connection.
func SessionClosed() {
	sessionsOpen.Dec()
}

// RecordLogin records a login attempt outcome.
func RecordLogin(ok bool) {
	loginsTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordCommand records a handled FTP verb and its outcome.
func RecordCommand(verb string, ok bool) {
	commandsTotal.WithLabelValues(verb, outcome(ok)).Inc()
}

// RecordDownload records bytes written to a data channel.
func RecordDownload(n int64) {
	transferBytes.WithLabelValues("download").Add(float64(n))
}

// RecordUpload records bytes drained from a data channel.
func RecordUpload(n int64) {
	transferBytes.WithLabelValues("upload").Add(float64(n))
}

// ObserveRemoteCall records one hosting API call.
func ObserveRemoteCall(op string, start time.Time, err error) {
	remoteCallsTotal.WithLabelValues(op, outcome(err == nil)).Inc()
	remoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
