// Package multitable is the ETL engine that rewrites the denormalized
// export_th table into the trade star schema: dim_country, dim_hs2, dim_hs4
// and fact_export_th.
//
// A run is a fixed sequence of stages:
//
//	reset -> extract dimensions -> build cache -> count -> chunk fan-out -> join
//
// Each chunk pages its window of source rows, maps them to facts against the
// frozen DimensionCache, and writes them in retried batches. The context is
// checked between stages and while dispatching chunks; dispatched chunks run
// to completion.
package multitable

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tradeetl/internal/metrics"
	"tradeetl/internal/storage"
	"tradeetl/internal/workerpool"
)

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusComplete RunStatus = "COMPLETE"
	StatusFailed   RunStatus = "FAILED"
)

// RunResult is the outcome of one Run. Per-row diagnostics stay in the
// engine log; Message is the single line shown to callers.
type RunResult struct {
	ProcessID        string          `json:"processId"`
	Scope            string          `json:"year"`
	Mode             Mode            `json:"mode"`
	Status           RunStatus       `json:"status"`
	Message          string          `json:"message"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          time.Time       `json:"endTime"`
	TotalRecords     int64           `json:"totalRecords"`
	ProcessedRecords int64           `json:"processedRecords"`
	FailedRecords    int64           `json:"failedRecords"`
	RejectedRecords  int64           `json:"rejectedRecords"`
	FailedBatches    int64           `json:"failedBatches"`
	NewDimensions    DimensionCounts `json:"newDimensions"`
	Chunks           int             `json:"chunks"`
	Percent          float64         `json:"progressPercentage"`
}

// Progress is the share of source rows in scope that reached a terminal
// state (written, failed or rejected), in percent.
func (r RunResult) Progress() float64 {
	if r.TotalRecords == 0 {
		if r.Status == StatusComplete {
			return 100
		}
		return 0
	}
	done := r.ProcessedRecords + r.FailedRecords + r.RejectedRecords
	return float64(done) * 100 / float64(r.TotalRecords)
}

// Duration is EndTime - StartTime.
func (r RunResult) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Engine runs ETL passes over a repository on a caller-owned worker pool.
// The engine never closes the pool or the repository.
type Engine struct {
	repo storage.Repository
	pool *workerpool.Pool
	opts Options
}

// New builds an engine. Zero-valued options take their defaults. The
// repository's connection pool should allow at least pool.Config().Max
// concurrent connections or chunk workers will queue on it.
func New(repo storage.Repository, pool *workerpool.Pool, opts Options) *Engine {
	return &Engine{repo: repo, pool: pool, opts: opts.withDefaults()}
}

// runTally aggregates chunk outcomes from concurrent workers.
type runTally struct {
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	batches   atomic.Int64
	failedB   atomic.Int64
}

// Run executes one ETL pass for scope.
//
// A year scope first deletes that year's facts (and unreferenced dimensions),
// so re-running a year replaces its facts. The all-years scope first wipes
// the whole star schema. Extraction is incremental against what remains.
//
// Row and batch failures are absorbed and counted; the run still completes.
// A chunk that cannot read its source page, a reset failure, or a
// cancellation before dispatch finishes fails the run. The returned error is
// nil exactly when Status is COMPLETE.
func (e *Engine) Run(ctx context.Context, scope storage.Scope, mode Mode) (RunResult, error) {
	clock := e.opts.Clock
	logf := e.opts.Logger.Printf

	res := RunResult{
		ProcessID: e.opts.NewID(),
		Scope:     scope.String(),
		Mode:      mode,
		StartTime: clock.Now(),
	}

	fail := func(stage string, err error) (RunResult, error) {
		res.Status = StatusFailed
		res.EndTime = clock.Now()
		res.Message = fmt.Sprintf("ETL failed at %s: %v", stage, err)
		res.Percent = res.Progress()
		logf("stage=run process_id=%s scope=%s status=failed failed_stage=%s err=%v duration=%s",
			res.ProcessID, res.Scope, stage, err, durMS(res.Duration()))
		metrics.RecordStep(e.opts.Job, "run", err, res.Duration())
		return res, err
	}

	if !mode.valid() {
		return fail("validate", fmt.Errorf("%w: %s", ErrInvalidMode, mode))
	}
	if !scope.All {
		if err := checkYear(scope.Year); err != nil {
			return fail("validate", err)
		}
	}
	if e.pool == nil {
		return fail("validate", errors.New("engine: worker pool is required"))
	}

	logf("stage=run process_id=%s scope=%s mode=%s chunk_size=%d batch_size=%d",
		res.ProcessID, res.Scope, mode, e.opts.ChunkSize, e.opts.BatchSize)

	// stage runs fn if ctx is still live and records its timing.
	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := clock.Now()
		err := fn()
		metrics.RecordStep(e.opts.Job, name, err, clock.Since(start))
		return err
	}

	if err := stage("reset", func() error {
		if scope.All {
			_, err := e.resetAll(ctx)
			return err
		}
		_, err := e.resetYear(ctx, scope.Year)
		return err
	}); err != nil {
		return fail("reset", err)
	}

	if err := stage("extract", func() error {
		st, err := e.ExtractDimensions(ctx, scope)
		res.NewDimensions = st.Inserted
		return err
	}); err != nil {
		return fail("extract", err)
	}
	for _, kind := range storage.DimensionKinds {
		metrics.RecordRow(e.opts.Job, "dimension_"+kind.String(), res.NewDimensions.Get(kind))
	}

	var cache *DimensionCache
	if err := stage("cache", func() error {
		start := clock.Now()
		c, err := LoadDimensionCache(ctx, e.repo)
		if err != nil {
			return fmt.Errorf("engine: build cache: %w", err)
		}
		cache = c
		logf("stage=cache countries=%d hs2=%d hs4=%d duration=%s",
			c.Len(storage.DimCountry), c.Len(storage.DimHS2), c.Len(storage.DimHS4), durMS(clock.Since(start)))
		return nil
	}); err != nil {
		return fail("cache", err)
	}

	if err := stage("count", func() error {
		n, err := e.repo.CountSource(ctx, scope)
		if err != nil {
			return fmt.Errorf("engine: count source %s: %w", scope, err)
		}
		res.TotalRecords = n
		return nil
	}); err != nil {
		return fail("count", err)
	}

	windows := Windows(res.TotalRecords, e.opts.ChunkSize)
	res.Chunks = len(windows)

	var tally runTally
	loadErr := stage("load", func() error {
		return e.dispatch(ctx, scope, NewMapper(cache, mode), windows, &tally)
	})

	res.ProcessedRecords = tally.processed.Load()
	res.FailedRecords = tally.failed.Load()
	res.RejectedRecords = tally.rejected.Load()
	res.FailedBatches = tally.failedB.Load()
	metrics.RecordRow(e.opts.Job, "processed", res.ProcessedRecords)
	metrics.RecordRow(e.opts.Job, "failed", res.FailedRecords)
	metrics.RecordRow(e.opts.Job, "rejected", res.RejectedRecords)
	metrics.RecordBatches(e.opts.Job, tally.batches.Load())

	if loadErr != nil {
		return fail("load", loadErr)
	}

	res.Status = StatusComplete
	res.EndTime = clock.Now()
	res.Percent = res.Progress()
	res.Message = fmt.Sprintf("ETL completed for %s: %d of %d records written (%d failed in %d batches, %d rejected)",
		res.Scope, res.ProcessedRecords, res.TotalRecords, res.FailedRecords, res.FailedBatches, res.RejectedRecords)
	logf("stage=run process_id=%s scope=%s status=complete total=%d processed=%d failed=%d failed_batches=%d rejected=%d chunks=%d duration=%s",
		res.ProcessID, res.Scope, res.TotalRecords, res.ProcessedRecords, res.FailedRecords, res.FailedBatches,
		res.RejectedRecords, res.Chunks, durMS(res.Duration()))
	metrics.RecordStep(e.opts.Job, "run", nil, res.Duration())
	return res, nil
}

// dispatch submits one task per window and waits for all accepted tasks.
// Chunks run on a context detached from ctx's cancellation; ctx only stops
// further submissions. The returned error joins submission and chunk errors.
func (e *Engine) dispatch(ctx context.Context, scope storage.Scope, m Mapper, windows []Window, tally *runTally) error {
	runCtx := context.WithoutCancel(ctx)
	group := e.pool.Group()

	var submitErr error
	for _, w := range windows {
		if err := group.Go(ctx, func() error {
			return e.runChunk(runCtx, scope, m, w, tally)
		}); err != nil {
			submitErr = fmt.Errorf("engine: dispatch chunk %d of %d: %w", w.Index, len(windows), err)
			break
		}
	}

	// Barrier: every accepted chunk settles before the run reports.
	chunkErr := group.Wait()
	ps := e.pool.Stats()
	e.opts.Logger.Printf("stage=dispatch chunks=%d pool_workers=%d pool_submitted=%d pool_completed=%d pool_rejected=%d",
		len(windows), ps.Workers, ps.Submitted, ps.Completed, ps.Rejected)
	return errors.Join(submitErr, chunkErr)
}

// maxRowLogs caps per-row diagnostic lines per chunk.
const maxRowLogs = 5

// runChunk pages its window, maps rows and writes batches. Only a page read
// failure escapes as an error.
func (e *Engine) runChunk(ctx context.Context, scope storage.Scope, m Mapper, w Window, tally *runTally) error {
	logf := e.opts.Logger.Printf
	start := e.opts.Clock.Now()

	rows, err := e.repo.PageSource(ctx, scope, w.Offset, w.Limit)
	if err != nil {
		logf("stage=chunk chunk=%d offset=%d limit=%d status=failed err=%v", w.Index, w.Offset, w.Limit, err)
		return &ChunkError{Chunk: w.Index, Offset: w.Offset, Limit: w.Limit, Err: err}
	}

	facts := make([]storage.FactRecord, 0, len(rows))
	var rejected int64
	for _, rec := range rows {
		f, err := m.Map(rec)
		if err != nil {
			rejected++
			if rejected <= maxRowLogs {
				logf("stage=map chunk=%d status=rejected err=%v", w.Index, err)
			}
			continue
		}
		facts = append(facts, f)
	}
	if rejected > maxRowLogs {
		logf("stage=map chunk=%d rejected=%d (first %d logged)", w.Index, rejected, maxRowLogs)
	}

	ls := e.writeBatches(ctx, w.Index, facts)

	tally.processed.Add(ls.written)
	tally.failed.Add(ls.failed)
	tally.rejected.Add(rejected)
	tally.batches.Add(ls.batches)
	tally.failedB.Add(int64(len(ls.errs)))
	if len(ls.errs) > 0 {
		logf("stage=chunk chunk=%d failed_batches=%d first_err=%v", w.Index, len(ls.errs), ls.errs[0].Err)
	}

	logf("stage=chunk chunk=%d offset=%d rows=%d written=%d failed=%d rejected=%d batches=%d duration=%s",
		w.Index, w.Offset, len(rows), ls.written, ls.failed, rejected, ls.batches, durMS(e.opts.Clock.Since(start)))
	return nil
}
