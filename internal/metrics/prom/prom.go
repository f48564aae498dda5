// Package prom implements a Prometheus backend for the metrics package. The
// HTTP server exposes it for scraping; one-shot CLI runs push it to a
// Pushgateway before exit.
package prom

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"tradeetl/internal/metrics"
)

// Backend records ETL metrics into its own registry.
type Backend struct {
	reg *prometheus.Registry

	pushURL string
	pushJob string

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	rowCounter   *prometheus.CounterVec
	batchCounter *prometheus.CounterVec
}

// Options configure the backend. PushURL enables Flush to push to a
// Pushgateway; without it Flush is a no-op and metrics are only scraped.
type Options struct {
	PushURL        string
	PushJob        string
	ProcessMetrics bool
}

// New builds the collectors and registers them.
func New(opts Options) (*Backend, error) {
	reg := prometheus.NewRegistry()

	b := &Backend{
		reg:     reg,
		pushURL: opts.PushURL,
		pushJob: opts.PushJob,
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "ETL step executions by job, step and status.",
		}, []string{"job", "step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "ETL step duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"job", "step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows handled by kind (processed, failed, rejected, dimension_*).",
		}, []string{"job", "kind"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Fact batches written.",
		}, []string{"job"}),
	}
	if b.pushJob == "" {
		b.pushJob = "tradeetl"
	}

	cs := []prometheus.Collector{b.stepCounter, b.stepDuration, b.rowCounter, b.batchCounter}
	if opts.ProcessMetrics {
		cs = append(cs, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prom: register collector: %w", err)
		}
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["job"], labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rowCounter.WithLabelValues(labels["job"], labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.WithLabelValues(labels["job"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds {
		return
	}
	b.stepDuration.WithLabelValues(labels["job"], labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the configured Pushgateway.
func (b *Backend) Flush() error {
	if b.pushURL == "" {
		return nil
	}
	if err := push.New(b.pushURL, b.pushJob).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prom: push to %s: %w", b.pushURL, err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg})
}

// Registry exposes the underlying registry.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

var _ metrics.Backend = (*Backend)(nil)
