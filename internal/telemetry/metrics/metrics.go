// Package metrics defines the Prometheus metrics exposed on /metrics
// (spec §6). Registered on a private registry rather than
// controller-runtime's default since this service runs no controller
// manager.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every governance metric. Callers mount Handler() on
// /metrics rather than reaching for the global DefaultRegisterer.
type Registry struct {
	reg *prometheus.Registry

	ToolCallsTotal     *prometheus.CounterVec
	ScanRunsTotal      *prometheus.CounterVec
	ServersRegistered  *prometheus.CounterVec
	ServersApproved    prometheus.Gauge
	ScansPending       prometheus.Gauge
	ScanRiskScore      prometheus.Histogram
	ToolCallLatency    *prometheus.HistogramVec
	PolicyCheckLatency prometheus.Histogram
}

// New builds and registers a fresh Registry.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_tool_calls_total",
			Help: "Total tool calls evaluated by the enforcement adapter.",
		}, []string{"server", "tool", "team", "decision"}),
		ScanRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_scan_runs_total",
			Help: "Total scan runs by terminal status.",
		}, []string{"status"}),
		ServersRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_servers_registered_total",
			Help: "Total servers registered by source type and initial status.",
		}, []string{"source_type", "status"}),
		ServersApproved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "governor_servers_approved",
			Help: "Number of servers currently in the Approved state.",
		}),
		ScansPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "governor_scans_pending",
			Help: "Number of scans currently Pending or Running.",
		}),
		ScanRiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_scan_risk_score",
			Help:    "Distribution of scan risk scores.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		ToolCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_tool_call_latency_seconds",
			Help:    "Downstream tool call latency observed by the enforcement adapter.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server", "tool"}),
		PolicyCheckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_policy_check_latency_seconds",
			Help:    "Latency of policy engine decide() calls.",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		}),
	}

	r.reg.MustRegister(
		r.ToolCallsTotal,
		r.ScanRunsTotal,
		r.ServersRegistered,
		r.ServersApproved,
		r.ScansPending,
		r.ScanRiskScore,
		r.ToolCallLatency,
		r.PolicyCheckLatency,
	)
	return r
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordToolCall records one enforcement decision.
func (r *Registry) RecordToolCall(server, tool, team, decision string, latency time.Duration) {
	r.ToolCallsTotal.WithLabelValues(server, tool, team, decision).Inc()
	r.ToolCallLatency.WithLabelValues(server, tool).Observe(latency.Seconds())
}

// RecordPolicyCheck records one decide() call's latency.
func (r *Registry) RecordPolicyCheck(latency time.Duration) {
	r.PolicyCheckLatency.Observe(latency.Seconds())
}

// RecordScanRun records a scan's terminal status.
func (r *Registry) RecordScanRun(status string) {
	r.ScanRunsTotal.WithLabelValues(status).Inc()
}

// RecordScanRiskScore records a completed scan's risk score.
func (r *Registry) RecordScanRiskScore(score float64) {
	r.ScanRiskScore.Observe(score)
}

// RecordServerRegistered records a new server registration.
func (r *Registry) RecordServerRegistered(sourceType, status string) {
	r.ServersRegistered.WithLabelValues(sourceType, status).Inc()
}

// SetServersApproved sets the current Approved-server gauge.
func (r *Registry) SetServersApproved(n int) {
	r.ServersApproved.Set(float64(n))
}

// SetScansPending sets the current pending+running scan gauge.
func (r *Registry) SetScansPending(n int) {
	r.ScansPending.Set(float64(n))
}
