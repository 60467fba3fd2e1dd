// Package observability mounts the gateway's ambient /healthz and /metrics
// surface alongside the WebSocket endpoint. Neither is part of the wire
// protocol (spec §1 scopes out a dashboard); both exist because the
// teacher's HTTP transport carries them on every deployment regardless of
// product surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the orchestrator records.
type Metrics struct {
	ToolRequestsTotal  *prometheus.CounterVec
	ToolRequestLatency *prometheus.HistogramVec
	PendingApprovals   prometheus.Gauge
	RateLimitRejections prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

// NewMetrics creates and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ToolRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgate",
				Name:      "tool_requests_total",
				Help:      "Total tool_request calls by resulting decision",
			},
			[]string{"decision"}, // allow/deny/ask
		),
		ToolRequestLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentgate",
				Name:      "tool_request_duration_seconds",
				Help:      "End-to-end tool_request handling time, including any ask suspension",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"decision"},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentgate",
				Name:      "pending_approvals",
				Help:      "Number of ask requests currently suspended awaiting a human decision",
			},
		),
		RateLimitRejections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentgate",
				Name:      "rate_limit_rejections_total",
				Help:      "Total tool_request calls rejected by the rate limiter",
			},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentgate",
				Name:      "active_sessions",
				Help:      "1 if an agent connection is currently authenticated, 0 otherwise",
			},
		),
	}
}
