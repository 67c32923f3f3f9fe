package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for the backtest engine
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	daysSimulated   prometheus.Counter
	factorChunks    *prometheus.CounterVec
	snapshotWrites  *prometheus.CounterVec
	ordersTotal     *prometheus.CounterVec
	runningSimCount prometheus.Gauge
}

// NewMetrics creates and registers the engine collectors on reg.
// Pass prometheus.DefaultRegisterer for normal operation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Total number of backtest runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall-clock duration of completed backtest runs",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		daysSimulated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_days_simulated_total",
				Help: "Total number of trading days simulated",
			},
		),
		factorChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_factor_chunks_total",
				Help: "Factor date-chunks served, by source",
			},
			[]string{"source"}, // computed | cache
		),
		snapshotWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_snapshot_writes_total",
				Help: "Daily snapshot persistence attempts by outcome",
			},
			[]string{"outcome"}, // ok | retried | failed
		),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_orders_total",
				Help: "Simulated orders by side",
			},
			[]string{"side"},
		),
		runningSimCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backtest_running_simulations",
				Help: "Number of simulations currently running",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.daysSimulated,
			m.factorChunks,
			m.snapshotWrites,
			m.ordersTotal,
			m.runningSimCount,
		)
	}
	return m
}

// RunStarted marks a simulation as running
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runningSimCount.Inc()
}

// RunFinished records the final status and duration of a run
func (m *Metrics) RunFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.runningSimCount.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

// DaySimulated counts one completed trading day
func (m *Metrics) DaySimulated() {
	if m == nil {
		return
	}
	m.daysSimulated.Inc()
}

// FactorChunk counts one served date-chunk by source ("cache" or "computed")
func (m *Metrics) FactorChunk(source string) {
	if m == nil {
		return
	}
	m.factorChunks.WithLabelValues(source).Inc()
}

// SnapshotWrite counts one snapshot persistence attempt by outcome
func (m *Metrics) SnapshotWrite(outcome string) {
	if m == nil {
		return
	}
	m.snapshotWrites.WithLabelValues(outcome).Inc()
}

// Order counts one simulated order
func (m *Metrics) Order(side string) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(side).Inc()
}

// Handler returns the exposition handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes metrics at addr+path until the server fails
func Serve(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	return http.ListenAndServe(addr, mux)
}
