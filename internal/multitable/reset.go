package multitable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tradeetl/internal/metrics"
	"tradeetl/internal/storage"
)

// resetOrder lists the star-schema tables wiped by ResetAll. Facts go first
// so the wipe also satisfies foreign keys on backends whose integrity toggle
// is a no-op for the current role.
var resetOrder = []string{storage.TableFact, storage.TableCountry, storage.TableHS2, storage.TableHS4}

// ResetStats reports what a reset removed.
type ResetStats struct {
	Facts      int64           `json:"factsDeleted"`
	Dimensions DimensionCounts `json:"dimensionsDeleted"`
}

// ResetAll empties the fact table and all three dimension tables inside one
// transaction with referential integrity suspended. Integrity is re-enabled
// on every exit path; a failed restore is retried with backoff and, if it
// still fails, reported as *IntegrityError.
func (e *Engine) ResetAll(ctx context.Context) (err error) {
	start := e.opts.Clock.Now()
	defer func() { metrics.RecordStep(e.opts.Job, "reset_all", err, e.opts.Clock.Since(start)) }()

	_, err = e.resetAll(ctx)
	return err
}

func (e *Engine) resetAll(ctx context.Context) (ResetStats, error) {
	logf := e.opts.Logger.Printf
	start := e.opts.Clock.Now()

	sess, err := e.repo.Maintenance(ctx)
	if err != nil {
		return ResetStats{}, fmt.Errorf("engine: reset all: open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logf("stage=reset_all close_session err=%v", cerr)
		}
	}()

	if err := sess.SetIntegrity(ctx, false); err != nil {
		// Some backends may have applied the toggle before failing.
		if rerr := e.restoreIntegrity(ctx, sess); rerr != nil {
			return ResetStats{}, &IntegrityError{Err: rerr, Cause: err}
		}
		return ResetStats{}, fmt.Errorf("engine: reset all: disable integrity: %w", err)
	}

	var st ResetStats
	wipeErr := sess.InTx(ctx, func(ctx context.Context, w storage.Wiper) error {
		for _, table := range resetOrder {
			n, err := w.DeleteAll(ctx, table)
			if err != nil {
				return err
			}
			switch table {
			case storage.TableFact:
				st.Facts = n
			case storage.TableCountry:
				st.Dimensions.add(storage.DimCountry, n)
			case storage.TableHS2:
				st.Dimensions.add(storage.DimHS2, n)
			case storage.TableHS4:
				st.Dimensions.add(storage.DimHS4, n)
			}
		}
		return nil
	})

	if rerr := e.restoreIntegrity(ctx, sess); rerr != nil {
		logf("stage=reset_all status=integrity_not_restored err=%v", rerr)
		return ResetStats{}, &IntegrityError{Err: rerr, Cause: wipeErr}
	}
	if wipeErr != nil {
		logf("stage=reset_all status=failed err=%v", wipeErr)
		return ResetStats{}, fmt.Errorf("engine: reset all: %w", wipeErr)
	}

	logf("stage=reset_all facts=%d countries=%d hs2=%d hs4=%d duration=%s",
		st.Facts, st.Dimensions.Countries, st.Dimensions.HS2, st.Dimensions.HS4, durMS(e.opts.Clock.Since(start)))
	return st, nil
}

// restoreIntegrity re-enables integrity checks, retrying with backoff. It
// ignores cancellation of ctx: a session must never be left unchecked
// because the caller gave up.
func (e *Engine) restoreIntegrity(ctx context.Context, sess storage.Maintenance) error {
	ctx = context.WithoutCancel(ctx)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.opts.BackoffBase
	exp.MaxInterval = e.opts.BackoffMax
	exp.MaxElapsedTime = 0
	exp.Clock = e.opts.Clock
	policy := backoff.WithMaxRetries(exp, uint64(e.opts.IntegrityAttempts-1))

	return backoff.RetryNotifyWithTimer(
		func() error { return sess.SetIntegrity(ctx, true) },
		policy,
		func(err error, wait time.Duration) {
			e.opts.Logger.Printf("stage=restore_integrity retry_in=%s err=%v", wait, err)
		},
		newClockTimer(e.opts.Clock),
	)
}

// ResetYear deletes the fact rows of one year and then every dimension row
// no remaining fact references, in one transaction.
func (e *Engine) ResetYear(ctx context.Context, year int) (st ResetStats, err error) {
	start := e.opts.Clock.Now()
	defer func() { metrics.RecordStep(e.opts.Job, "reset_year", err, e.opts.Clock.Since(start)) }()

	if err := checkYear(year); err != nil {
		return ResetStats{}, err
	}
	return e.resetYear(ctx, year)
}

func (e *Engine) resetYear(ctx context.Context, year int) (ResetStats, error) {
	logf := e.opts.Logger.Printf
	start := e.opts.Clock.Now()

	sess, err := e.repo.Maintenance(ctx)
	if err != nil {
		return ResetStats{}, fmt.Errorf("engine: reset year %d: open session: %w", year, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logf("stage=reset_year close_session err=%v", cerr)
		}
	}()

	var st ResetStats
	err = sess.InTx(ctx, func(ctx context.Context, w storage.Wiper) error {
		n, err := w.DeleteFactsByYear(ctx, year)
		if err != nil {
			return err
		}
		st.Facts = n

		for _, kind := range storage.DimensionKinds {
			ids, err := w.UnreferencedIDs(ctx, kind)
			if err != nil {
				return err
			}
			var deleted int64
			err = storage.Chunk(len(ids), e.opts.DimensionChunkSize, func(lo, hi int) error {
				n, err := w.DeleteDimensions(ctx, kind, ids[lo:hi])
				deleted += n
				return err
			})
			if err != nil {
				return err
			}
			st.Dimensions.add(kind, deleted)
		}
		return nil
	})
	if err != nil {
		logf("stage=reset_year year=%d status=failed err=%v", year, err)
		return ResetStats{}, fmt.Errorf("engine: reset year %d: %w", year, err)
	}

	logf("stage=reset_year year=%d facts=%d unused_countries=%d unused_hs2=%d unused_hs4=%d duration=%s",
		year, st.Facts, st.Dimensions.Countries, st.Dimensions.HS2, st.Dimensions.HS4, durMS(e.opts.Clock.Since(start)))
	return st, nil
}

// IsIntegrityError reports whether err is, or wraps, an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
