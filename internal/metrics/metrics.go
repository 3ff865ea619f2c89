package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	EstimatesTotal  *prometheus.CounterVec
	EstimateLatency *prometheus.HistogramVec
	UpstreamLatency *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec
	TokenRefreshes  prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		EstimatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costimator_estimates_total",
			Help: "Total estimate requests served",
		}, []string{"mode", "status"}),
		EstimateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costimator_estimate_latency_ms",
			Help:    "Estimate request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costimator_upstream_latency_ms",
			Help:    "Upstream call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"endpoint", "status"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "costimator_breaker_state",
			Help: "Circuit breaker state per endpoint (0 closed, 1 open, 2 half-open)",
		}, []string{"endpoint"}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "costimator_token_refreshes_total",
			Help: "Token issuer refresh calls",
		}),
	}
	reg.MustRegister(m.EstimatesTotal, m.EstimateLatency, m.UpstreamLatency, m.BreakerState, m.TokenRefreshes)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
