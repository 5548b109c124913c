// Package obs exposes Prometheus metrics for RPC traffic and auth flows.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service reports. A nil *Metrics is a valid no-op.
type Metrics struct {
	rpcInFlight    prometheus.Gauge
	rpcTotal       *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	signIns        *prometheus.CounterVec
	lockouts       prometheus.Counter
	refreshes      *prometheus.CounterVec
	otpIssued      *prometheus.CounterVec
	otpRejected    *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	rateLimited    prometheus.Counter
	swept          *prometheus.CounterVec
	buildInfo      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them in reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenantauth_rpc_in_flight",
			Help: "In-flight gRPC requests.",
		}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_rpc_requests_total",
			Help: "Total gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantauth_rpc_duration_seconds",
			Help:    "gRPC request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_signin_total",
			Help: "Sign-in attempts by result.",
		}, []string{"result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantauth_lockouts_total",
			Help: "Accounts locked after repeated failures.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_refresh_total",
			Help: "Refresh-token rotations by result.",
		}, []string{"result"}),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_otp_issued_total",
			Help: "One-time passcodes issued by purpose.",
		}, []string{"purpose"}),
		otpRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_otp_rejected_total",
			Help: "Rejected OTP issuances and verifications by purpose and reason.",
		}, []string{"purpose", "reason"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_notify_failures_total",
			Help: "Notifications that could not be handed off, by kind.",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantauth_rate_limited_total",
			Help: "Requests rejected by the per-peer limiter.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantauth_swept_total",
			Help: "Expired records removed by the sweeper, by table.",
		}, []string{"table"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tenantauth_build_info",
			Help: "Build information.",
		}, []string{"version"}),
	}
	reg.MustRegister(
		m.rpcInFlight, m.rpcTotal, m.rpcDuration, m.signIns, m.lockouts, m.refreshes,
		m.otpIssued, m.otpRejected, m.notifyFailures, m.rateLimited, m.swept, m.buildInfo,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SetBuildInfo publishes build_info{version} 1.
func (m *Metrics) SetBuildInfo(version string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}

// RPCStarted marks a request in flight and returns the function that records its outcome.
func (m *Metrics) RPCStarted(method string) func(code string) {
	if m == nil {
		return func(string) {}
	}
	m.rpcInFlight.Inc()
	start := time.Now()
	return func(code string) {
		m.rpcInFlight.Dec()
		m.rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		m.rpcTotal.WithLabelValues(method, code).Inc()
	}
}

// SignIn counts a sign-in attempt outcome.
func (m *Metrics) SignIn(result string) {
	if m == nil {
		return
	}
	m.signIns.WithLabelValues(result).Inc()
}

// Lockout counts an account lockout.
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// Refresh counts a refresh-token rotation outcome.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// OTPIssued counts an issued passcode.
func (m *Metrics) OTPIssued(purpose string) {
	if m == nil {
		return
	}
	m.otpIssued.WithLabelValues(purpose).Inc()
}

// OTPRejected counts a throttled issuance or failed verification.
func (m *Metrics) OTPRejected(purpose, reason string) {
	if m == nil {
		return
	}
	m.otpRejected.WithLabelValues(purpose, reason).Inc()
}

// NotifyFailed counts a notification the notifier could not accept.
func (m *Metrics) NotifyFailed(kind string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(kind).Inc()
}

// RateLimited counts a request rejected by the peer limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Swept adds n removed records for table.
func (m *Metrics) Swept(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(table).Add(float64(n))
}
