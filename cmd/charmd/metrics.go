// metrics.go - Prometheus metrics for the attestation daemon
package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	MintsTotal         prometheus.Counter
	TransfersTotal     prometheus.Counter
	BurnsTotal         *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
	ScansTotal         prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter

	ActiveClaims  prometheus.GaugeFunc
	ProofDuration prometheus.Histogram
	HTTPDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers the daemon metrics. activeClaims is
// sampled lazily on scrape.
func NewMetrics(activeClaims func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		MintsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charm_mints_total",
			Help: "Number of product claims minted.",
		}),
		TransfersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charm_transfers_total",
			Help: "Number of completed claim transfers.",
		}),
		BurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charm_burns_total",
			Help: "Number of claim burns by reason.",
		}, []string{"reason"}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charm_verifications_total",
			Help: "Number of verification verdicts by outcome.",
		}, []string{"authentic"}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charm_detector_scans_total",
			Help: "Number of counterfeit detector scans.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charm_errors_total",
			Help: "Number of rejected operations by error kind.",
		}, []string{"kind"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charm_rate_limited_total",
			Help: "Number of requests rejected by the rate limiter.",
		}),
		ActiveClaims: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "charm_active_claims",
			Help: "Number of non-burned claims in the ledger.",
		}, activeClaims),
		ProofDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "charm_proof_duration_seconds",
			Help:    "Consistency proof generation latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charm_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.MintsTotal, m.TransfersTotal, m.BurnsTotal, m.VerificationsTotal,
		m.ScansTotal, m.ErrorsTotal, m.RateLimitedTotal,
		m.ActiveClaims, m.ProofDuration, m.HTTPDuration,
	)
	return m
}
