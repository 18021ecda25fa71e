// Package metrics records run counters for an estimate run and writes them
// in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

// Recorder holds the metrics of a single run on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	candidates  *prometheus.CounterVec
	attempts    prometheus.Counter
	rows        prometheus.Counter
	chunks      prometheus.Counter
	rowDuration prometheus.Histogram
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		candidates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emissions_candidates_total",
				Help: "Candidates estimated, by outcome",
			},
			[]string{"outcome"},
		),
		attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "emissions_estimate_attempts_total",
			Help: "Estimate API calls made, retries included",
		}),
		rows: f.NewCounter(prometheus.CounterOpts{
			Name: "emissions_rows_total",
			Help: "Input rows processed",
		}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Name: "emissions_chunks_written_total",
			Help: "Output chunk files written",
		}),
		rowDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "emissions_row_duration_seconds",
			Help:    "Time to estimate, rank and merge one row",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// ObserveCandidate counts one candidate outcome and the calls it took.
func (r *Recorder) ObserveCandidate(outcome string, attempts int) {
	r.candidates.WithLabelValues(outcome).Inc()
	r.attempts.Add(float64(attempts))
}

// ObserveRow counts one processed row.
func (r *Recorder) ObserveRow(d time.Duration) {
	r.rows.Inc()
	r.rowDuration.Observe(d.Seconds())
}

// ObserveChunk counts one written chunk file.
func (r *Recorder) ObserveChunk() {
	r.chunks.Inc()
}

// WriteTextfile writes the current metric values to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}
