// Package metrics defines the Prometheus collectors the agent updates while
// trading:
//
//	bybot_orders_total{kind,result}         orders submitted, by kind and outcome
//	bybot_order_retries_total{remedy}       retry-taxonomy remedies applied
//	bybot_protection_actions_total{action}  stops moved, breakevens locked, floors raised
//	bybot_closes_total{reason}              positions closed, by reason
//	bybot_open_positions                    ledger size
//	bybot_equity_usd                        last portfolio equity
//	bybot_cycle_seconds                     orchestration cycle duration
//
// Every method is safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	orders            *prometheus.CounterVec
	retries           *prometheus.CounterVec
	protectionActions *prometheus.CounterVec
	closes            *prometheus.CounterVec
	openPositions     prometheus.Gauge
	equity            prometheus.Gauge
	cycleSeconds      prometheus.Histogram
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bybot_orders_total", Help: "Orders submitted"},
			[]string{"kind", "result"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bybot_order_retries_total", Help: "Retry remedies applied to rejected orders"},
			[]string{"remedy"},
		),
		protectionActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bybot_protection_actions_total", Help: "Protective level changes"},
			[]string{"action"},
		),
		closes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bybot_closes_total", Help: "Positions closed"},
			[]string{"reason"},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "bybot_open_positions", Help: "Positions tracked by the ledger"},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "bybot_equity_usd", Help: "Account equity in the settle coin"},
		),
		cycleSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bybot_cycle_seconds",
				Help:    "Orchestration cycle duration",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
	}
	reg.MustRegister(
		m.orders, m.retries, m.protectionActions, m.closes,
		m.openPositions, m.equity, m.cycleSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Order(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.orders.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Retry(remedy string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(remedy).Inc()
}

func (m *Metrics) ProtectionAction(action string) {
	if m == nil {
		return
	}
	m.protectionActions.WithLabelValues(action).Inc()
}

func (m *Metrics) Close(reason string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) SetEquity(v float64) {
	if m == nil {
		return
	}
	m.equity.Set(v)
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycleSeconds.Observe(seconds)
}
