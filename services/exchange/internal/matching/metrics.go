package matching

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Passes            *prometheus.CounterVec
	PassDuration      prometheus.Histogram
	TradesExecuted    *prometheus.CounterVec
	TradedQuantity    *prometheus.CounterVec
	CandidatesSkipped *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exchange",
				Name:      "matching_passes_total",
				Help:      "Matching passes by final status of the incoming order.",
			},
			[]string{"status"},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exchange",
				Name:      "matching_pass_duration_seconds",
				Help:      "Duration of one matching pass.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		TradesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exchange",
				Name:      "trades_executed_total",
				Help:      "Executed trades.",
			},
			[]string{"ticker"},
		),
		TradedQuantity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exchange",
				Name:      "traded_quantity_total",
				Help:      "Executed quantity.",
			},
			[]string{"ticker"},
		),
		CandidatesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exchange",
				Name:      "matching_candidates_skipped_total",
				Help:      "Counter-orders skipped during matching, by reason.",
			},
			[]string{"reason"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.Passes, m.PassDuration, m.TradesExecuted, m.TradedQuantity, m.CandidatesSkipped)
	}
	return m
}

func (m *Metrics) observePass(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(status).Inc()
	m.PassDuration.Observe(d.Seconds())
}

func (m *Metrics) observeTrade(ticker string, qty int64) {
	if m == nil {
		return
	}
	m.TradesExecuted.WithLabelValues(ticker).Inc()
	m.TradedQuantity.WithLabelValues(ticker).Add(float64(qty))
}

func (m *Metrics) observeSkip(reason string) {
	if m == nil {
		return
	}
	m.CandidatesSkipped.WithLabelValues(reason).Inc()
}
