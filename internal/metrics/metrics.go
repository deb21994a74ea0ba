package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	jobsTotal      *prometheus.CounterVec
	rowsTotal      *prometheus.CounterVec
	bulkRowsTotal  *prometheus.CounterVec
	pollsTotal     *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetpipe_jobs_total",
				Help: "Upload jobs finished by outcome",
			},
			[]string{"outcome"},
		),
		rowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetpipe_rows_total",
				Help: "Rows finished by the processing flow by outcome",
			},
			[]string{"type", "outcome"},
		),
		bulkRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetpipe_bulk_rows_total",
				Help: "Rows written by the bulk loader by path",
			},
			[]string{"path"},
		),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetpipe_poll_cycles_total",
				Help: "Poll cycles by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		importDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sheetpipe_import_duration_seconds",
				Help:    "Time spent importing one upload job",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.jobsTotal,
		m.rowsTotal,
		m.bulkRowsTotal,
		m.pollsTotal,
		m.importDuration,
	)
	return m
}

// ObserveJob records a finished import job.
func (m *Metrics) ObserveJob(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.importDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveRow records a finished row.
func (m *Metrics) ObserveRow(typeTag, outcome string) {
	if m == nil {
		return
	}
	m.rowsTotal.WithLabelValues(typeTag, outcome).Inc()
}

// AddBulkRows counts rows written through the native or fallback path.
func (m *Metrics) AddBulkRows(path string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.bulkRowsTotal.WithLabelValues(path).Add(float64(rows))
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(flow, outcome string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(flow, outcome).Inc()
}
