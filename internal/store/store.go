// Package store defines the contracts of the two stores holding the event
// log: a transactional hot store for recent events and an archival cold
// store for migrated ones. The migration worker, the stream reader and the
// compactor depend only on these interfaces.
package store

import (
	"context"
	"time"

	"github.com/trackdechets/eventlog/internal/model"
)

// HotStore holds events from their creation until they are migrated.
type HotStore interface {
	// Append inserts one event. It returns an error wrapping ErrDuplicateID
	// if the id already exists.
	Append(ctx context.Context, event *model.Event) error

	// ListOldest returns up to limit events ordered by (created_at, id)
	// ascending, strictly after the given position when it is non-nil.
	ListOldest(ctx context.Context, after *model.Position, limit int) ([]*model.Event, error)

	// DeleteByIDs removes the given events and returns how many were
	// present. Absent ids are not an error.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)

	// FindByStreams returns the events of the given streams, optionally
	// bounded to created_at <= lte, ordered by stream then (created_at, id).
	FindByStreams(ctx context.Context, streamIDs []string, lte *time.Time) ([]*model.Event, error)

	// ListStreamIDs returns up to limit distinct stream ids greater than
	// after, in ascending order.
	ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error)

	Close() error
}

// BulkResult counts the outcome of a cold store bulk insert.
type BulkResult struct {
	Inserted   int
	Duplicates int
}

// ColdStore holds migrated events.
type ColdStore interface {
	// BulkInsert inserts events independently of each other. Records that
	// already exist count as duplicates, not failures. Any other per-record
	// failure is collected into a *PartialBatchError returned once the rest
	// of the batch has been written.
	BulkInsert(ctx context.Context, events []*model.Event) (BulkResult, error)

	// FindByStreams returns a lazy cursor over the events of the given
	// streams, optionally bounded to created_at <= lte, ordered by stream
	// then (created_at, id).
	FindByStreams(ctx context.Context, streamIDs []string, lte *time.Time) (Cursor, error)

	// DeleteOne removes one event. An absent event is not an error.
	DeleteOne(ctx context.Context, streamID, eventID string) error

	// EnsureIndexed creates the stream id index if it is missing. It is safe
	// to call on every start.
	EnsureIndexed(ctx context.Context) error

	// ListStreamIDs returns up to limit distinct stream ids greater than
	// after, in ascending order.
	ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error)

	Close(ctx context.Context) error
}

// FindHotStream returns the hot events of one stream.
func FindHotStream(ctx context.Context, s HotStore, streamID string, lte *time.Time) ([]*model.Event, error) {
	return s.FindByStreams(ctx, []string{streamID}, lte)
}

// FindColdStream returns the cold events of one stream, fully read.
func FindColdStream(ctx context.Context, s ColdStore, streamID string, lte *time.Time) ([]*model.Event, error) {
	cur, err := s.FindByStreams(ctx, []string{streamID}, lte)
	if err != nil {
		return nil, err
	}
	return Drain(ctx, cur)
}

// Transactor is implemented by hot stores that can run several operations
// atomically. The store passed to fn must not be used after fn returns.
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(tx HotStore) error) error
}
