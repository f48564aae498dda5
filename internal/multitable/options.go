package multitable

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger and slog.NewLogLogger satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// Defaults match the sizing the trade warehouse was tuned with.
const (
	DefaultChunkSize          = 50000
	DefaultBatchSize          = 5000
	DefaultDimensionChunkSize = 1000
	DefaultMaxAttempts        = 3
	DefaultBackoffBase        = time.Second
	DefaultBackoffMax         = 30 * time.Second
	DefaultIntegrityAttempts  = 5
	DefaultJob                = "trade_etl"
)

// Options controls engine sizing, retry behavior and ambient collaborators.
// Zero values take the defaults above.
type Options struct {
	// ChunkSize is the number of source rows one chunk task pages in.
	ChunkSize int

	// BatchSize is the number of fact rows per InsertFacts call.
	BatchSize int

	// DimensionChunkSize bounds one InsertDimensions call during extraction.
	DimensionChunkSize int

	// MaxAttempts is the attempt ceiling for one fact batch (first try included).
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// IntegrityAttempts bounds retries when re-enabling referential integrity.
	IntegrityAttempts int

	// Job labels log lines and metrics.
	Job string

	Logger Logger
	Clock  clockwork.Clock

	// NewID generates run ids. Defaults to random UUIDs.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.DimensionChunkSize <= 0 {
		o.DimensionChunkSize = DefaultDimensionChunkSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = DefaultBackoffMax
		if o.BackoffMax < o.BackoffBase {
			o.BackoffMax = o.BackoffBase
		}
	}
	if o.IntegrityAttempts <= 0 {
		o.IntegrityAttempts = DefaultIntegrityAttempts
	}
	if o.Job == "" {
		o.Job = DefaultJob
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
	return o
}

// Validate rejects explicitly invalid sizing. Zero values are accepted and
// defaulted by New. A batch size above the chunk size is legal: each chunk
// then writes a single batch.
func (o Options) Validate() error {
	var errs []error
	if o.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk size must be >= 0, got %d", o.ChunkSize))
	}
	if o.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch size must be >= 0, got %d", o.BatchSize))
	}
	if o.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max attempts must be >= 0, got %d", o.MaxAttempts))
	}
	if o.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("backoff base must be >= 0, got %s", o.BackoffBase))
	}
	return errors.Join(errs...)
}

func durMS(d time.Duration) time.Duration { return d.Truncate(time.Millisecond) }
