// Package migration moves events from the hot store to the cold store.
//
// A pass copies the oldest hot events into the cold store in batches and
// deletes each batch from the hot store once the copy succeeded. The cold
// insert absorbs duplicates, so a pass interrupted at any point can simply be
// run again: an event is never lost, at worst it is present in both stores
// until the next pass, and readers deduplicate by id.
package migration

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

// DefaultBatchSize is the number of events moved per batch.
const DefaultBatchSize = 500

// PassStats counts what a pass did.
type PassStats struct {
	Batches        int   `json:"batches"`
	Fetched        int   `json:"fetched"`
	Migrated       int   `json:"migrated"`
	Duplicates     int   `json:"duplicates"`
	Deleted        int64 `json:"deleted"`
	DeleteFailures int   `json:"delete_failures"`
}

func (s *PassStats) add(o PassStats) {
	s.Batches += o.Batches
	s.Fetched += o.Fetched
	s.Migrated += o.Migrated
	s.Duplicates += o.Duplicates
	s.Deleted += o.Deleted
	s.DeleteFailures += o.DeleteFailures
}

// Worker runs migration passes.
type Worker struct {
	hot       store.HotStore
	cold      store.ColdStore
	batchSize int
	pub       events.Publisher
	logger    *slog.Logger
}

// NewWorker returns a worker moving batchSize events at a time. A
// non-positive batchSize selects DefaultBatchSize.
func NewWorker(hot store.HotStore, cold store.ColdStore, batchSize int, pub events.Publisher, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		hot:       hot,
		cold:      cold,
		batchSize: batchSize,
		pub:       pub,
		logger:    logger,
	}
}

// RunPass migrates batches until a batch comes back short. It stops at the
// first cold insert failure without deleting that batch from the hot store;
// a failed hot delete is only logged.
func (w *Worker) RunPass(ctx context.Context) (PassStats, error) {
	start := time.Now()
	stats, err := w.pass(ctx)
	w.report(ctx, stats, err, time.Since(start))
	return stats, err
}

func (w *Worker) pass(ctx context.Context) (PassStats, error) {
	var (
		stats PassStats
		after *model.Position
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := w.hot.ListOldest(ctx, after, w.batchSize)
		if err != nil {
			return stats, fmt.Errorf("list oldest hot events: %w", err)
		}
		if len(batch) == 0 {
			return stats, nil
		}
		stats.Batches++
		stats.Fetched += len(batch)

		res, err := w.cold.BulkInsert(ctx, batch)
		stats.Migrated += res.Inserted
		stats.Duplicates += res.Duplicates
		if err != nil {
			var pbe *store.PartialBatchError
			if errors.As(err, &pbe) {
				w.logger.Error("cold store rejected events, batch left in hot store",
					"rejected", len(pbe.Failures), "event_ids", pbe.FailedIDs())
			}
			return stats, fmt.Errorf("copy batch of %d events to cold store: %w", len(batch), err)
		}

		ids := model.EventIDs(batch)
		n, err := w.hot.DeleteByIDs(ctx, ids)
		if err != nil {
			stats.DeleteFailures += len(ids)
			w.logger.Warn("delete migrated events from hot store failed, they stay in both stores until the next pass",
				"count", len(ids), "err", err)
		} else {
			stats.Deleted += n
		}

		last := batch[len(batch)-1].Position()
		after = &last

		if len(batch) < w.batchSize {
			return stats, nil
		}
	}
}

// Drain runs passes until one deletes nothing from the hot store, so events
// appended while a pass ran are moved as well.
func (w *Worker) Drain(ctx context.Context) (PassStats, error) {
	var total PassStats
	for {
		stats, err := w.RunPass(ctx)
		total.add(stats)
		if err != nil {
			return total, err
		}
		if stats.Deleted == 0 {
			return total, nil
		}
	}
}

// Job adapts RunPass to a scheduled job.
func (w *Worker) Job(ctx context.Context) error {
	_, err := w.RunPass(ctx)
	return err
}

func (w *Worker) report(ctx context.Context, stats PassStats, err error, elapsed time.Duration) {
	attrs := []any{
		"batches", stats.Batches,
		"fetched", stats.Fetched,
		"migrated", stats.Migrated,
		"duplicates", stats.Duplicates,
		"deleted", stats.Deleted,
		"delete_failures", stats.DeleteFailures,
		"elapsed", elapsed,
	}
	msg := events.MigrationCompleted{
		Batches:        stats.Batches,
		Fetched:        stats.Fetched,
		Migrated:       stats.Migrated,
		Duplicates:     stats.Duplicates,
		Deleted:        stats.Deleted,
		DeleteFailures: stats.DeleteFailures,
		DurationMS:     elapsed.Milliseconds(),
	}
	if err != nil {
		msg.Error = err.Error()
		w.logger.Error("migration pass failed", append(attrs, "err", err)...)
	} else if stats.Fetched > 0 {
		w.logger.Info("migration pass completed", attrs...)
	} else {
		w.logger.Debug("migration pass found nothing to move")
	}
	// The pass context may already be cancelled; the notification should
	// still go out.
	events.PublishLogged(context.WithoutCancel(ctx), w.pub, w.logger, events.TopicMigrationCompleted, msg)
}
