package multitable

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMode is returned for a mapping mode other than lenient or strict.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrInvalidYear is returned for a run or reset year that is not a
	// four-digit integer.
	ErrInvalidYear = errors.New("invalid year")
)

// Row-level violations collected by strict mapping. Test with errors.Is
// against a *ValidationError.
var (
	ErrUnknownDimension = errors.New("unknown dimension")
	ErrNotInteger       = errors.New("not an integer")
	ErrMonthOutOfRange  = errors.New("month out of range")
	ErrYearOutOfRange   = errors.New("year out of range")
)

// ValidationError rejects one source row in strict mode. It carries every
// violation found for the row, not only the first.
type ValidationError struct {
	SourceID   int64
	Violations []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("validation failed for source row %d: %s", e.SourceID, strings.Join(msgs, "; "))
}

// Unwrap exposes the violations to errors.Is / errors.As.
func (e *ValidationError) Unwrap() []error { return e.Violations }

// BatchError reports a fact batch whose writes were retried to exhaustion.
// The batch's rows are counted as failed; sibling batches still run.
type BatchError struct {
	Chunk    int
	Batch    int
	Rows     int
	Attempts int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("chunk %d batch %d (%d rows) failed after %d attempts: %v",
		e.Chunk, e.Batch, e.Rows, e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ChunkError is a fatal chunk failure (its source page could not be read).
type ChunkError struct {
	Chunk  int
	Offset int
	Limit  int
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d [offset=%d limit=%d]: %v", e.Chunk, e.Offset, e.Limit, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// IntegrityError means referential integrity could not be re-enabled after a
// reset. Cause is the wipe error, if the wipe also failed.
type IntegrityError struct {
	Err   error
	Cause error
}

func (e *IntegrityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("restore referential integrity: %v (after reset failure: %v)", e.Err, e.Cause)
	}
	return fmt.Sprintf("restore referential integrity: %v", e.Err)
}

func (e *IntegrityError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}
