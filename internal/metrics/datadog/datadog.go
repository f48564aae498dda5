// Package datadog implements a Datadog backend for the metrics package.
//
// Metrics are buffered in memory and submitted on a ticker (default once per
// minute) and once more on Close, so long server processes produce a time
// series and one-shot CLI runs still deliver their tail.
//
// Flush snapshots and resets the buffers under the lock, then submits outside
// it. Buffers are reset even when submission fails.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/jonboulle/clockwork"

	"tradeetl/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// Service becomes tag "service:<name>" on every series. Defaults to "tradeetl".
	Service string

	// Tags are extra Datadog tags (e.g. "env:prod").
	Tags []string

	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// Clock drives the flush ticker and point timestamps.
	Clock clockwork.Clock

	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type stepKey struct{ job, step, status string }

type rowKey struct{ job, kind string }

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api   metricsSubmitter
	ctx   context.Context
	clock clockwork.Clock

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	mu        sync.Mutex
	steps     map[stepKey]float64
	durations map[stepKey][]float64
	rows      map[rowKey]float64
	batches   map[string]float64
}

// NewBackend constructs the backend with the official client and starts the
// flush loop. API keys come from DD_API_KEY/DD_APP_KEY via the client's
// default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	service := opts.Service
	if service == "" {
		service = "tradeetl"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "service:"+service)
	baseTags = append(baseTags, opts.Tags...)

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		clock:      clock,
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
	}
	b.resetLocked()

	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.clock.NewTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.Chan():
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs a final Flush. Later calls only
// flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.steps[stepKey{labels["job"], labels["step"], labels["status"]}] += delta
	case metrics.RowsTotal:
		if labels["kind"] == "" {
			return
		}
		b.rows[rowKey{labels["job"], labels["kind"]}] += delta
	case metrics.BatchesTotal:
		b.batches[labels["job"]] += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := stepKey{labels["job"], labels["step"], labels["status"]}
	b.durations[k] = append(b.durations[k], value)
}

type snapshot struct {
	steps     map[stepKey]float64
	durations map[stepKey][]float64
	rows      map[rowKey]float64
	batches   map[string]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.steps) == 0 && len(s.durations) == 0 && len(s.rows) == 0 && len(s.batches) == 0
}

func (b *Backend) resetLocked() {
	b.steps = make(map[stepKey]float64)
	b.durations = make(map[stepKey][]float64)
	b.rows = make(map[rowKey]float64)
	b.batches = make(map[string]float64)
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{steps: b.steps, durations: b.durations, rows: b.rows, batches: b.batches}
	b.resetLocked()
	return s
}

// Flush submits buffered metrics. It returns nil when nothing is buffered.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.clock.Now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog: submit %d series: %w", len(payload.Series), err)
	}
	return nil
}

// buildSeries is pure: names and tags here are the operational contract.
// Series are sorted by metric name then tags for stable output.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.steps)+len(s.rows)+len(s.batches)+6*len(s.durations))

	for k, v := range s.steps {
		series = append(series, point("etl.step.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "job:"+k.job, "step:"+k.step, "status:"+k.status), nowUnix))
	}
	for k, v := range s.rows {
		series = append(series, point("etl.rows.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "job:"+k.job, "kind:"+k.kind), nowUnix))
	}
	for job, v := range s.batches {
		series = append(series, point("etl.batches.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "job:"+job), nowUnix))
	}
	for k, samples := range s.durations {
		tags := withTags(b.baseTags, "job:"+k.job, "step:"+k.step, "status:"+k.status)
		series = appendPercentiles(series, "etl.step.duration_seconds", samples, tags, nowUnix)
	}

	sort.Slice(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

// appendPercentiles publishes p50/p90/p95/p99/max/samples gauges for a sample
// set. samples is not mutated.
func appendPercentiles(series []datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return series
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	g := datadogV2.METRICINTAKETYPE_GAUGE
	return append(series,
		point(prefix+".p50", g, percentileNearestRank(cp, 0.50), tags, nowUnix),
		point(prefix+".p90", g, percentileNearestRank(cp, 0.90), tags, nowUnix),
		point(prefix+".p95", g, percentileNearestRank(cp, 0.95), tags, nowUnix),
		point(prefix+".p99", g, percentileNearestRank(cp, 0.99), tags, nowUnix),
		point(prefix+".max", g, cp[len(cp)-1], tags, nowUnix),
		point(prefix+".samples", g, float64(len(cp)), tags, nowUnix),
	)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}

var _ metrics.Backend = (*Backend)(nil)
