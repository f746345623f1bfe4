package picksync

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSourceRequired = errors.New("picksync: source is required")
	ErrKindMismatch   = errors.New("picksync: value kind does not match key")
	ErrClosed         = errors.New("picksync: cache closed")
)

// ChunkError describes one failed chunk write inside a scan batch.
type ChunkError struct {
	Index     int      // chunk position within the batch
	Size      int      // records in the chunk
	Picklists []string // picklists touched by the chunk
	Err       error    // nil when the source reported failure without an error
}

func (e *ChunkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("write chunk %d (%d records, picklists %v): %v", e.Index, e.Size, e.Picklists, e.Err)
	}
	return fmt.Sprintf("write chunk %d (%d records, picklists %v): rejected by source", e.Index, e.Size, e.Picklists)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// isCancel reports whether err stems from context cancellation or deadline.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
