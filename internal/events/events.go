// Package events publishes notifications about the event log on a message
// bus: appended events, finished migration passes and compaction runs. The
// bus is optional; NoopPublisher stands in when it is not configured.
package events

import (
	"context"
	"log/slog"

	"github.com/trackdechets/eventlog/internal/model"
)

// Topic constants. Every topic shares the TopicPrefix so a subscriber can
// follow all of them with TopicAll.
const (
	TopicPrefix = "eventlog."
	TopicAll    = "eventlog.>"

	TopicEventAppended       = "eventlog.event.appended"
	TopicMigrationCompleted  = "eventlog.migration.completed"
	TopicCompactionCompleted = "eventlog.compaction.completed"
)

// EventAppended is published after an event is written to the hot store.
type EventAppended struct {
	Event *model.Event `json:"event"`
}

// MigrationCompleted is published at the end of a migration pass.
type MigrationCompleted struct {
	Batches        int    `json:"batches"`
	Fetched        int    `json:"fetched"`
	Migrated       int    `json:"migrated"`
	Duplicates     int    `json:"duplicates"`
	Deleted        int64  `json:"deleted"`
	DeleteFailures int    `json:"delete_failures"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
}

// CompactionCompleted is published at the end of a compaction run.
type CompactionCompleted struct {
	Target     string `json:"target"`
	Streams    int    `json:"streams"`
	Scanned    int    `json:"scanned"`
	Deleted    int    `json:"deleted"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Cursor     string `json:"cursor,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// PublishLogged publishes event and logs a failure instead of returning it.
// Notifications are best effort: the stores stay the source of truth.
func PublishLogged(ctx context.Context, pub Publisher, logger *slog.Logger, topic string, event any) {
	if pub == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := pub.Publish(ctx, topic, event); err != nil {
		logger.Warn("publish notification failed", "topic", topic, "err", err)
	}
}
