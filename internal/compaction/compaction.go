// Package compaction removes redundant events from streams.
//
// Within a stream, an event whose payload equals the payload of the last
// kept event carries no information and is deleted. Comparison is against
// the last kept event, not the last scanned one, so a run of identical
// events collapses to its first element.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trackdechets/eventlog/internal/events"
	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

// DefaultPageSize is the number of stream ids listed per page.
const DefaultPageSize = 100

// Target is a store the compactor can scan and prune.
type Target interface {
	Name() string
	ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error)
	// Scan calls fn for each event of the stream in (created_at, id) order
	// and stops at the first error fn returns.
	Scan(ctx context.Context, streamID string, fn func(*model.Event) error) error
	Delete(ctx context.Context, e *model.Event) error
}

// ColdTarget compacts the cold store.
type ColdTarget struct {
	Store store.ColdStore
}

func (t ColdTarget) Name() string { return "cold" }

func (t ColdTarget) ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return t.Store.ListStreamIDs(ctx, after, limit)
}

func (t ColdTarget) Scan(ctx context.Context, streamID string, fn func(*model.Event) error) error {
	cur, err := t.Store.FindByStreams(ctx, []string{streamID}, nil)
	if err != nil {
		return err
	}
	defer cur.Close(context.WithoutCancel(ctx))
	for cur.Next(ctx) {
		if err := fn(cur.Event()); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (t ColdTarget) Delete(ctx context.Context, e *model.Event) error {
	return t.Store.DeleteOne(ctx, e.StreamID, e.ID)
}

// HotTarget compacts the hot store.
type HotTarget struct {
	Store store.HotStore
}

func (t HotTarget) Name() string { return "hot" }

func (t HotTarget) ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return t.Store.ListStreamIDs(ctx, after, limit)
}

func (t HotTarget) Scan(ctx context.Context, streamID string, fn func(*model.Event) error) error {
	events, err := store.FindHotStream(ctx, t.Store, streamID, nil)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (t HotTarget) Delete(ctx context.Context, e *model.Event) error {
	_, err := t.Store.DeleteByIDs(ctx, []string{e.ID})
	return err
}

// Stats counts what a run did. Cursor is the last stream fully processed;
// passing it as from resumes an interrupted run.
type Stats struct {
	Streams int    `json:"streams"`
	Scanned int    `json:"scanned"`
	Deleted int    `json:"deleted"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Cursor  string `json:"cursor,omitempty"`
}

// StreamStats counts what compacting one stream did.
type StreamStats struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Compactor removes consecutive duplicate payloads stream by stream.
type Compactor struct {
	target   Target
	pageSize int
	pub      events.Publisher
	logger   *slog.Logger
}

// New returns a compactor over target listing pageSize streams at a time.
func New(target Target, pageSize int, pub events.Publisher, logger *slog.Logger) *Compactor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		target:   target,
		pageSize: pageSize,
		pub:      pub,
		logger:   logger.With("target", target.Name()),
	}
}

// Run compacts every stream whose id sorts after from ("" for all). A
// stream that cannot be read is skipped; a failed delete is counted and the
// scan goes on. Run returns early only when listing streams fails or ctx is
// done, with Stats.Cursor telling where to resume.
func (c *Compactor) Run(ctx context.Context, from string) (Stats, error) {
	start := time.Now()
	stats, err := c.run(ctx, from)
	c.report(ctx, stats, err, time.Since(start))
	return stats, err
}

func (c *Compactor) run(ctx context.Context, from string) (Stats, error) {
	stats := Stats{Cursor: from}
	after := from
	for page := 1; ; page++ {
		ids, err := c.target.ListStreamIDs(ctx, after, c.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list stream ids after %q: %w", after, err)
		}
		if len(ids) == 0 {
			return stats, nil
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			ss, err := c.CompactStream(ctx, id)
			stats.Scanned += ss.Scanned
			stats.Deleted += ss.Deleted
			stats.Failed += ss.Failed
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return stats, ctxErr
				}
				stats.Skipped++
				c.logger.Warn("skipping stream", "stream_id", id, "err", err)
			}
			stats.Streams++
			stats.Cursor = id
		}

		c.logger.Info("compaction progress",
			"page", page, "streams", stats.Streams, "deleted", stats.Deleted, "failed", stats.Failed, "cursor", stats.Cursor)

		if len(ids) < c.pageSize {
			return stats, nil
		}
		after = ids[len(ids)-1]
	}
}

// CompactStream compacts one stream. It returns an error only when the
// stream's events could not be read; events deleted before that stay
// deleted.
func (c *Compactor) CompactStream(ctx context.Context, streamID string) (StreamStats, error) {
	var (
		ss       StreamStats
		previous *model.Event
	)
	err := c.target.Scan(ctx, streamID, func(e *model.Event) error {
		ss.Scanned++
		if previous == nil || !model.SamePayload(previous.Data, e.Data) {
			previous = e
			return nil
		}
		if err := c.target.Delete(ctx, e); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			ss.Failed++
			c.logger.Warn("delete duplicate event failed", "stream_id", streamID, "event_id", e.ID, "err", err)
			return nil
		}
		ss.Deleted++
		return nil
	})
	if err != nil {
		return ss, fmt.Errorf("scan stream %s: %w", streamID, err)
	}
	if ss.Deleted > 0 {
		c.logger.Debug("stream compacted", "stream_id", streamID, "scanned", ss.Scanned, "deleted", ss.Deleted)
	}
	return ss, nil
}

// Job adapts Run to a scheduled job compacting every stream.
func (c *Compactor) Job(ctx context.Context) error {
	_, err := c.Run(ctx, "")
	return err
}

func (c *Compactor) report(ctx context.Context, stats Stats, err error, elapsed time.Duration) {
	msg := events.CompactionCompleted{
		Target:     c.target.Name(),
		Streams:    stats.Streams,
		Scanned:    stats.Scanned,
		Deleted:    stats.Deleted,
		Failed:     stats.Failed,
		Skipped:    stats.Skipped,
		Cursor:     stats.Cursor,
		DurationMS: elapsed.Milliseconds(),
	}
	attrs := []any{
		"streams", stats.Streams,
		"scanned", stats.Scanned,
		"deleted", stats.Deleted,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"cursor", stats.Cursor,
		"elapsed", elapsed,
	}
	switch {
	case err == nil:
		c.logger.Info("compaction completed", attrs...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		msg.Error = err.Error()
		c.logger.Warn("compaction interrupted, resume with the cursor", attrs...)
	default:
		msg.Error = err.Error()
		c.logger.Error("compaction failed", append(attrs, "err", err)...)
	}
	events.PublishLogged(context.WithoutCancel(ctx), c.pub, c.logger, events.TopicCompactionCompleted, msg)
}
