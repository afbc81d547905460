package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapgogo_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapgogo_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Swap lifecycle
	SwapTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapgogo_swap_transitions_total",
			Help: "Swap state transitions",
		},
		[]string{"transition"}, // request, confirm, activate, cancel, expire, purge
	)

	SwapRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapgogo_swap_rejections_total",
			Help: "Swap operations rejected with a domain error",
		},
		[]string{"reason"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapgogo_messages_sent_total",
			Help: "Total chat messages accepted",
		},
		[]string{"during_swap"},
	)

	// Reconciliation sweep
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swapgogo_sweep_duration_seconds",
			Help:    "Reconciliation sweep run time",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	SweepRowErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapgogo_sweep_row_errors_total",
			Help: "Rows the sweep skipped because of an error",
		},
	)

	// Fan-out
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapgogo_ws_connections",
			Help: "Open WebSocket connections",
		},
	)

	DroppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapgogo_dropped_deliveries_total",
			Help: "Events dropped because a client buffer was full or the broker failed",
		},
	)
)
