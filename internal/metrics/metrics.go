// Package metrics counts what a batch did in Prometheus form. A batch is a
// one-shot process, so the metrics are written to a textfile for the node
// exporter instead of being served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/san-kum/endstat/internal/aggregate"
)

const namespace = "endstat"

// Batch observes an aggregator run.
type Batch struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	records     prometheus.Counter
	filtered    prometheus.Counter
	loadSeconds prometheus.Histogram

	avgPolarization prometheus.Gauge
	lifetime        prometheus.Gauge
	lifetimeErr     prometheus.Gauge
	elapsed         prometheus.Gauge
}

func NewBatch() *Batch {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Batch{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs processed, by status.",
		}, []string{"status"}),
		records: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records read from loaded runs.",
		}),
		filtered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_filtered_total",
			Help:      "Records that passed the filter.",
		}),
		loadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_load_seconds",
			Help:      "Time to load and reduce one run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		avgPolarization: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_polarization",
			Help:      "Average end polarization of the last batch.",
		}),
		lifetime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifetime_seconds",
			Help:      "Fitted lifetime constant of the last batch.",
		}),
		lifetimeErr: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifetime_stderr_seconds",
			Help:      "Standard error of the fitted lifetime.",
		}),
		elapsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of the last batch.",
		}),
	}
}

func (b *Batch) OnRun(r aggregate.RunResult, elapsed time.Duration) {
	b.runs.WithLabelValues(r.Status.String()).Inc()
	if r.Status != aggregate.StatusLoaded {
		return
	}
	b.records.Add(float64(r.Records))
	b.filtered.Add(float64(r.Filtered))
	b.loadSeconds.Observe(elapsed.Seconds())
}

// Finish records the batch summary.
func (b *Batch) Finish(rep *aggregate.Report) {
	b.elapsed.Set(rep.Elapsed.Seconds())
	if avg, ok := rep.Aggregate.AveragePolarization(); ok {
		b.avgPolarization.Set(avg)
	}
	if rep.Survival != nil && rep.FitErr == nil {
		b.lifetime.Set(rep.Survival.B)
		b.lifetimeErr.Set(rep.Survival.BErr)
	}
}

func (b *Batch) Registry() *prometheus.Registry { return b.reg }

// WriteFile writes the metrics in text exposition format, atomically.
func (b *Batch) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, b.reg)
}
