package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sandbox metrics
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clawbowl_sandboxes_total",
			Help: "Total number of sandboxes by state",
		},
		[]string{"state"},
	)

	SandboxesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbowl_sandboxes_created_total",
			Help: "Total number of sandboxes created",
		},
	)

	SandboxesReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbowl_sandboxes_reaped_total",
			Help: "Total number of sandboxes stopped by the idle reaper",
		},
	)

	SandboxStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clawbowl_sandbox_start_duration_seconds",
			Help:    "Time from ensure to a running, probed sandbox in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	ProbeTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbowl_probe_timeouts_total",
			Help: "Total number of readiness probes that exhausted their budget",
		},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbowl_proxy_requests_total",
			Help: "Total number of chat proxy requests by outcome",
		},
		[]string{"outcome"},
	)

	ProxyRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbowl_proxy_retries_total",
			Help: "Total number of upstream retry attempts",
		},
	)

	ProxyFriendlyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbowl_proxy_friendly_errors_total",
			Help: "Total number of friendly error messages emitted by kind",
		},
		[]string{"kind"},
	)

	// Alert metrics
	AlertsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbowl_alerts_dispatched_total",
			Help: "Total number of alerts dispatched to the push channel",
		},
	)

	AlertDispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbowl_alert_dispatch_failures_total",
			Help: "Total number of failed alert dispatch attempts",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbowl_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawbowl_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SandboxesTotal)
	prometheus.MustRegister(SandboxesCreated)
	prometheus.MustRegister(SandboxesReaped)
	prometheus.MustRegister(SandboxStartDuration)
	prometheus.MustRegister(ProbeTimeouts)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProxyRetriesTotal)
	prometheus.MustRegister(ProxyFriendlyErrors)
	prometheus.MustRegister(AlertsDispatched)
	prometheus.MustRegister(AlertDispatchFailures)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
