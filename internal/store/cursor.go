package store

import (
	"context"

	"github.com/trackdechets/eventlog/internal/model"
)

// Cursor is a forward-only sequence of events. It cannot be restarted; a
// new query is needed to read the events again. Callers must Close it.
type Cursor interface {
	// Next advances to the next event and reports whether there is one.
	// When it returns false, Err tells whether the sequence ended or failed.
	Next(ctx context.Context) bool
	// Event returns the current event.
	Event() *model.Event
	Err() error
	Close(ctx context.Context) error
}

// SliceCursor iterates over an in-memory slice.
type SliceCursor struct {
	events []*model.Event
	pos    int
}

// NewSliceCursor returns a cursor over events.
func NewSliceCursor(events []*model.Event) *SliceCursor {
	return &SliceCursor{events: events, pos: -1}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos+1 >= len(c.events) {
		c.pos = len(c.events)
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Event() *model.Event {
	if c.pos < 0 || c.pos >= len(c.events) {
		return nil
	}
	return c.events[c.pos]
}

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close(context.Context) error { return nil }

// Drain reads the rest of cur into a slice and closes it.
func Drain(ctx context.Context, cur Cursor) ([]*model.Event, error) {
	defer cur.Close(ctx)
	var events []*model.Event
	for cur.Next(ctx) {
		events = append(events, cur.Event())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
