// Package metrics registers the exchange's Prometheus collectors:
//
//	outcomebook_orders_total{side,result}
//	outcomebook_fills_total{kind}
//	outcomebook_fill_quantity_total{kind}
//	outcomebook_batch_items_total{batch,result}
//	outcomebook_batch_duration_seconds{batch}
//	outcomebook_claims_total
//	outcomebook_claim_payout_credits_total
//	outcomebook_integrity_violations_total{component}
//	go_* and process_* system metrics
//
// They are served by the API server on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

const namespace = "outcomebook"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	orders        *prometheus.CounterVec
	fills         *prometheus.CounterVec
	fillQty       *prometheus.CounterVec
	batchItems    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	claims        prometheus.Counter
	claimPayout   prometheus.Counter
	integrity     *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Signed orders submitted, by side and result",
		}, []string{"side", "result"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Executed fills by pool effect",
		}, []string{"kind"}),
		fillQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_quantity_total",
			Help:      "Shares executed by pool effect",
		}, []string{"kind"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items processed, by batch type and result",
		}, []string{"batch", "result"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"batch"}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claims paid",
		}),
		claimPayout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_payout_credits_total",
			Help:      "Credits paid out by claims",
		}),
		integrity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Transactions aborted by a broken ledger invariant",
		}, []string{"component"}),
	}
	m.reg.MustRegister(
		m.orders, m.fills, m.fillQty, m.batchItems, m.batchDuration,
		m.claims, m.claimPayout, m.integrity,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// OrderSubmitted counts one submission attempt.
func (m *Metrics) OrderSubmitted(side domain.Side, err error) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side.String(), result(err)).Inc()
}

// Fill counts one executed fill.
func (m *Metrics) Fill(f domain.Fill) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(string(f.Kind)).Inc()
	m.fillQty.WithLabelValues(string(f.Kind)).Add(float64(f.Quantity))
}

// BatchItem counts one processed batch item.
func (m *Metrics) BatchItem(batch string, err error) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(batch, result(err)).Inc()
}

// ObserveBatch records the duration of a batch that started at start.
func (m *Metrics) ObserveBatch(batch string, start time.Time) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(batch).Observe(time.Since(start).Seconds())
}

// Claim counts one paid claim.
func (m *Metrics) Claim(paid int64) {
	if m == nil {
		return
	}
	m.claims.Inc()
	m.claimPayout.Add(float64(paid))
}

// Integrity counts an aborted transaction.
func (m *Metrics) Integrity(component string) {
	if m == nil {
		return
	}
	m.integrity.WithLabelValues(component).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsRejected(err):
		return "rejected"
	case domain.IsExhausted(err):
		return "exhausted"
	default:
		return "error"
	}
}
