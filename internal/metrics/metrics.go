// Package metrics exposes plan and keeper activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"DCAKeeper/internal/plan"
)

const namespace = "dca"

// Metrics owns a private registry so tests and multiple services never collide on the
// default one.
type Metrics struct {
	registry *prometheus.Registry

	executions    prometheus.Counter
	sourceSpent   prometheus.Counter
	targetBought  prometheus.Counter
	feesAccrued   prometheus.Counter
	rejections    *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	tick          prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total", Help: "Purchases executed",
		}),
		sourceSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_spent_total", Help: "Gross source amount debited by executions",
		}),
		targetBought: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "target_bought_total", Help: "Target amount received from swaps",
		}),
		feesAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fees_accrued_total", Help: "Fees retained by executions",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total", Help: "Rejected operations by op and error code",
		}, []string{"op", "code"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "keeper_sweep_executions_total", Help: "Keeper execution attempts by result",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "keeper_sweep_duration_seconds", Help: "Keeper sweep wall time",
			Buckets: prometheus.DefBuckets,
		}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tick", Help: "Current logical tick",
		}),
	}
	m.registry.MustRegister(
		m.executions, m.sourceSpent, m.targetBought, m.feesAccrued,
		m.rejections, m.sweeps, m.sweepDuration, m.tick,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Executed implements plan.Observer.
func (m *Metrics) Executed(_ string, amount, fee, target uint64) {
	m.executions.Inc()
	m.sourceSpent.Add(float64(amount))
	m.feesAccrued.Add(float64(fee))
	m.targetBought.Add(float64(target))
}

// Rejected implements plan.Observer.
func (m *Metrics) Rejected(op string, err error) {
	m.rejections.WithLabelValues(op, plan.Code(err)).Inc()
}

// SweepDone records one keeper sweep.
func (m *Metrics) SweepDone(executed, failed int, took time.Duration) {
	m.sweeps.WithLabelValues("executed").Add(float64(executed))
	m.sweeps.WithLabelValues("failed").Add(float64(failed))
	m.sweepDuration.Observe(took.Seconds())
}

// SetTick publishes the current tick.
func (m *Metrics) SetTick(t uint64) { m.tick.Set(float64(t)) }

// Registry exposes the underlying registry as a gatherer.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ plan.Observer = (*Metrics)(nil)
