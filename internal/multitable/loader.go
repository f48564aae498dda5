package multitable

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"tradeetl/internal/storage"
)

// loadStats is the outcome of writing one chunk's facts.
type loadStats struct {
	written int64
	failed  int64
	batches int64
	errs    []*BatchError
}

// writeBatches splits facts into BatchSize batches and writes them in order,
// one InsertFacts transaction per batch. A batch that still fails after
// MaxAttempts is recorded as a BatchError and its rows as failed; the
// remaining batches are still written.
func (e *Engine) writeBatches(ctx context.Context, chunk int, facts []storage.FactRecord) loadStats {
	var st loadStats
	logf := e.opts.Logger.Printf

	batchNo := 0
	_ = storage.Chunk(len(facts), e.opts.BatchSize, func(start, end int) error {
		batch := facts[start:end]
		batchNo++
		b := batchNo

		attempts := 0
		var written int64
		op := func() error {
			attempts++
			n, err := e.repo.InsertFacts(ctx, batch)
			if err != nil {
				return err
			}
			written = n
			return nil
		}
		notify := func(err error, wait time.Duration) {
			logf("stage=load_batch chunk=%d batch=%d attempt=%d/%d retry_in=%s err=%v",
				chunk, b, attempts, e.opts.MaxAttempts, wait, err)
		}

		started := e.opts.Clock.Now()
		err := backoff.RetryNotifyWithTimer(op, e.retryPolicy(ctx), notify, newClockTimer(e.opts.Clock))
		if err != nil {
			be := &BatchError{Chunk: chunk, Batch: b, Rows: len(batch), Attempts: attempts, Err: err}
			st.errs = append(st.errs, be)
			st.failed += int64(len(batch))
			logf("stage=load_batch status=failed %v", be)
			return nil
		}
		st.written += written
		st.batches++
		logf("stage=load_batch chunk=%d batch=%d rows=%d attempts=%d duration=%s",
			chunk, b, written, attempts, durMS(e.opts.Clock.Since(started)))
		return nil
	})
	return st
}

// retryPolicy is exponential backoff from BackoffBase doubling up to
// BackoffMax, bounded to MaxAttempts tries in total.
func (e *Engine) retryPolicy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.opts.BackoffBase
	exp.MaxInterval = e.opts.BackoffMax
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Clock = e.opts.Clock
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.opts.MaxAttempts-1)), ctx)
}

// clockTimer drives backoff sleeps from the engine clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func newClockTimer(c clockwork.Clock) *clockTimer { return &clockTimer{clock: c} }

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.Chan() }
