// Package gwmetrics exposes the gateway's Prometheus counters and
// gauges. Unlike the rest of the pipeline this package wraps the real
// github.com/prometheus/client_golang registry rather than a hand-rolled
// JSON dump, since the metric names in the external interface (§6) must
// be valid Prometheus text exposition.
package gwmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge the gateway and its collaborators
// export under GET /metrics.
type Metrics struct {
	registry *prometheus.Registry

	GatewayRequestsTotal        prometheus.Counter
	GatewayRequestsActive       prometheus.Gauge
	GatewayFailoverAttempts     prometheus.Counter
	GatewayCooldownMarks        prometheus.Counter
	AccountInflightTotal        prometheus.Gauge
	RPCRequestsTotal            prometheus.Counter
	RPCRequestsFailedTotal      prometheus.Counter
	RPCRequestDurationMillis    prometheus.Summary
	UsageRefreshAttemptsTotal   prometheus.Counter
	UsageRefreshSuccessTotal    prometheus.Counter
	UsageRefreshFailuresTotal   prometheus.Counter
	UsageRefreshDurationMillis  prometheus.Summary
}

// New constructs a Metrics bundle registered against a fresh registry so
// tests never collide with the process-wide default registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		GatewayRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_gateway_requests_total",
			Help: "Total client requests accepted by the gateway.",
		}),
		GatewayRequestsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpttools_gateway_requests_active",
			Help: "Client requests currently being served.",
		}),
		GatewayFailoverAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_gateway_failover_attempts_total",
			Help: "Times the failover driver moved to the next candidate.",
		}),
		GatewayCooldownMarks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_gateway_cooldown_marks_total",
			Help: "Times an account was marked into cooldown.",
		}),
		AccountInflightTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpttools_gateway_account_inflight_total",
			Help: "Sum of per-account in-flight request counts.",
		}),
		RPCRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_rpc_requests_total",
			Help: "Total RPC requests received.",
		}),
		RPCRequestsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_rpc_requests_failed_total",
			Help: "RPC requests that returned an error result.",
		}),
		RPCRequestDurationMillis: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "gpttools_rpc_request_duration_milliseconds",
			Help: "RPC request handling latency in milliseconds.",
		}),
		UsageRefreshAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_usage_refresh_attempts_total",
			Help: "Usage refresh attempts initiated by the failover driver.",
		}),
		UsageRefreshSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_usage_refresh_success_total",
			Help: "Usage refresh attempts that completed successfully.",
		}),
		UsageRefreshFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpttools_usage_refresh_failures_total",
			Help: "Usage refresh attempts that failed.",
		}),
		UsageRefreshDurationMillis: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "gpttools_usage_refresh_duration_milliseconds",
			Help: "Usage refresh call latency in milliseconds.",
		}),
	}

	reg.MustRegister(
		m.GatewayRequestsTotal,
		m.GatewayRequestsActive,
		m.GatewayFailoverAttempts,
		m.GatewayCooldownMarks,
		m.AccountInflightTotal,
		m.RPCRequestsTotal,
		m.RPCRequestsFailedTotal,
		m.RPCRequestDurationMillis,
		m.UsageRefreshAttemptsTotal,
		m.UsageRefreshSuccessTotal,
		m.UsageRefreshFailuresTotal,
		m.UsageRefreshDurationMillis,
	)

	return m
}

// Handler returns the standard Prometheus text-exposition HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// activeGuard decrements GatewayRequestsActive exactly once, on Done.
type activeGuard struct {
	m    *Metrics
	done bool
}

// Done releases the guard. Safe to call at most meaningfully once; later
// calls are no-ops.
func (g *activeGuard) Done() {
	if g.done {
		return
	}
	g.done = true
	g.m.GatewayRequestsActive.Dec()
}

// BeginGatewayRequest increments the active-request gauge and the total
// counter, returning a guard whose Done decrements the gauge.
func (m *Metrics) BeginGatewayRequest() *activeGuard {
	m.GatewayRequestsTotal.Inc()
	m.GatewayRequestsActive.Inc()
	return &activeGuard{m: m}
}
