// Package writer is the write path of the event log. Events are stamped and
// inserted into the hot store only; migration to the cold store happens
// later, asynchronously.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/trackdechets/eventlog/internal/events"
	"github.com/trackdechets/eventlog/internal/idgen"
	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

// ErrInvalidEvent is returned for input that cannot become an event.
var ErrInvalidEvent = errors.New("invalid event")

// Input is what a caller supplies for a new event. The writer assigns the id
// and the creation time.
type Input struct {
	StreamID string
	Type     string
	Actor    string
	Data     json.RawMessage
	Metadata json.RawMessage
}

func (in Input) validate() error {
	if in.StreamID == "" {
		return fmt.Errorf("%w: stream id is required", ErrInvalidEvent)
	}
	if in.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}
	if err := model.ValidatePayload(in.Data); err != nil {
		return fmt.Errorf("%w: data: %w", ErrInvalidEvent, err)
	}
	if err := model.ValidatePayload(in.Metadata); err != nil {
		return fmt.Errorf("%w: metadata: %w", ErrInvalidEvent, err)
	}
	return nil
}

// Config holds the dependencies of a Writer. Hot is required.
type Config struct {
	Hot       store.HotStore
	Clock     clock.Clock
	NewID     func() (string, error)
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Writer appends events to the hot store.
type Writer struct {
	hot    store.HotStore
	clock  clock.Clock
	newID  func() (string, error)
	pub    events.Publisher
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// New returns a Writer. Missing optional dependencies default to the wall
// clock, idgen ids, no notifications and slog.Default().
func New(cfg Config) *Writer {
	w := &Writer{
		hot:    cfg.Hot,
		clock:  cfg.Clock,
		newID:  cfg.NewID,
		pub:    cfg.Publisher,
		logger: cfg.Logger,
	}
	if w.clock == nil {
		w.clock = clock.WallClock
	}
	if w.newID == nil {
		w.newID = idgen.Generate
	}
	if w.pub == nil {
		w.pub = &events.NoopPublisher{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// stamp returns the creation time of the next event: the clock truncated to
// milliseconds, never earlier than the previous stamp of this writer.
func (w *Writer) stamp() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now().UTC().Truncate(time.Millisecond)
	if now.Before(w.last) {
		now = w.last
	}
	w.last = now
	return now
}

func (w *Writer) build(in Input) (*model.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	id, err := w.newID()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	return &model.Event{
		ID:        id,
		StreamID:  in.StreamID,
		Type:      in.Type,
		Actor:     in.Actor,
		Data:      in.Data,
		Metadata:  in.Metadata,
		CreatedAt: w.stamp(),
	}, nil
}

// Append writes one event to the hot store and returns it.
func (w *Writer) Append(ctx context.Context, in Input) (*model.Event, error) {
	e, err := w.build(in)
	if err != nil {
		return nil, err
	}
	if err := w.hot.Append(ctx, e); err != nil {
		return nil, w.appendFailed(e, err)
	}
	w.published(ctx, e)
	return e, nil
}

// AppendBatch writes several events. When the hot store supports
// transactions they are written atomically; otherwise they are written in
// order and the first failure stops the batch.
func (w *Writer) AppendBatch(ctx context.Context, inputs []Input) ([]*model.Event, error) {
	batch := make([]*model.Event, 0, len(inputs))
	for i, in := range inputs {
		e, err := w.build(in)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		batch = append(batch, e)
	}

	write := func(hot store.HotStore) error {
		for _, e := range batch {
			if err := hot.Append(ctx, e); err != nil {
				return w.appendFailed(e, err)
			}
		}
		return nil
	}
	var err error
	if tx, ok := w.hot.(store.Transactor); ok {
		err = tx.RunInTransaction(ctx, write)
	} else {
		err = write(w.hot)
	}
	if err != nil {
		return nil, err
	}

	for _, e := range batch {
		w.published(ctx, e)
	}
	return batch, nil
}

func (w *Writer) appendFailed(e *model.Event, err error) error {
	if errors.Is(err, store.ErrDuplicateID) {
		w.logger.Warn("event id already exists", "event_id", e.ID, "stream_id", e.StreamID)
	}
	return fmt.Errorf("append event %s to stream %s: %w", e.ID, e.StreamID, err)
}

func (w *Writer) published(ctx context.Context, e *model.Event) {
	w.logger.Debug("event appended", "event_id", e.ID, "stream_id", e.StreamID, "type", e.Type)
	events.PublishLogged(ctx, w.pub, w.logger, events.TopicEventAppended, events.EventAppended{Event: e})
}
