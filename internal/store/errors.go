package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateID means an insert collided with an existing event id.
	ErrDuplicateID = errors.New("duplicate event id")

	// ErrUnavailable means a store could not be reached. Adapters wrap it
	// together with the driver error.
	ErrUnavailable = errors.New("store unavailable")
)

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// keeping the driver error in the chain.
func Unavailable(name string, err error) error {
	return fmt.Errorf("%s: %w: %w", name, ErrUnavailable, err)
}

// RecordFailure is one rejected record of a bulk insert.
type RecordFailure struct {
	EventID string
	Err     error
}

// PartialBatchError reports the records of a bulk insert that were rejected
// for a reason other than being duplicates. The other records were written.
type PartialBatchError struct {
	Failures []RecordFailure
}

func (e *PartialBatchError) Error() string {
	const shown = 3
	var b strings.Builder
	fmt.Fprintf(&b, "bulk insert: %d record(s) rejected", len(e.Failures))
	for i, f := range e.Failures {
		if i == shown {
			fmt.Fprintf(&b, "; and %d more", len(e.Failures)-shown)
			break
		}
		fmt.Fprintf(&b, "; %s: %v", f.EventID, f.Err)
	}
	return b.String()
}

// FailedIDs returns the ids of the rejected records.
func (e *PartialBatchError) FailedIDs() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.EventID
	}
	return ids
}
