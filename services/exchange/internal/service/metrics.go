package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vvoyage/exchange-API-tochka/libs/metrics"
)

type Metrics struct {
	OrdersPlaced       *prometheus.CounterVec
	OrderPlaceLatency  *prometheus.HistogramVec
	OrderCancellations *prometheus.CounterVec
	BalanceOps         *prometheus.CounterVec
	AdminOps           *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "orders_placed_total",
				Help:      "Order placement attempts by outcome.",
			},
			[]string{"result"},
		),
		OrderPlaceLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "order_place_latency_seconds",
				Help:      "Order placement latency including matching.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "order_cancellations_total",
				Help:      "Order cancellation attempts by outcome.",
			},
			[]string{"result"},
		),
		BalanceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "balance_operations_total",
				Help:      "Ledger credits and debits by result.",
			},
			[]string{"op", "result"},
		),
		AdminOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "admin_operations_total",
				Help:      "Administrative operations by kind and outcome.",
			},
			[]string{"op", "result"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.OrdersPlaced,
			m.OrderPlaceLatency,
			m.OrderCancellations,
			m.BalanceOps,
			m.AdminOps,
		)
	}
	return m
}

// IncBalanceOp lets Metrics serve as the ledger's metrics sink.
func (m *Metrics) IncBalanceOp(op, result string) {
	if m == nil {
		return
	}
	m.BalanceOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observePlace(result string, started time.Time) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(result).Inc()
	m.OrderPlaceLatency.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeCancel(result string) {
	if m == nil {
		return
	}
	m.OrderCancellations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeAdmin(op string, err error) {
	if m == nil {
		return
	}
	m.AdminOps.WithLabelValues(op, resultLabel(err)).Inc()
}
