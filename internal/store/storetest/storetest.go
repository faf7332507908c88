// Package storetest provides in-memory hot and cold stores for tests. Both
// honour the store contracts and let a test inject failures per operation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpAppend        Op = "append"
	OpListOldest    Op = "list_oldest"
	OpDelete        Op = "delete"
	OpFind          Op = "find"
	OpListStreamIDs Op = "list_stream_ids"
	OpBulkInsert    Op = "bulk_insert"
	OpEnsureIndexed Op = "ensure_indexed"
)

// ErrInjected is a generic failure for tests that do not care about the cause.
var ErrInjected = errors.New("injected failure")

// faults holds injected failures. It is embedded by both stores.
type faults struct {
	mu      sync.Mutex
	errs    map[Op]error
	rejects map[string]error
	calls   map[Op]int
}

// Fail makes every later call of op return err. A nil err clears it.
func (f *faults) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[Op]error)
	}
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Reject makes writes touching one of ids fail for that record only: bulk
// inserts report it in a *store.PartialBatchError, deletes return an error.
// A nil err clears the rejection.
func (f *faults) Reject(err error, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejects == nil {
		f.rejects = make(map[string]error)
	}
	for _, id := range ids {
		if err == nil {
			delete(f.rejects, id)
			continue
		}
		f.rejects[id] = err
	}
}

// Calls returns how many times op was invoked.
func (f *faults) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records a call of op and returns its injected failure. It must be
// called with mu held.
func (f *faults) enter(op Op) error {
	if f.calls == nil {
		f.calls = make(map[Op]int)
	}
	f.calls[op]++
	return f.errs[op]
}

func clone(e *model.Event) *model.Event {
	c := *e
	c.Data = slices.Clone(e.Data)
	c.Metadata = slices.Clone(e.Metadata)
	return &c
}

// sortByStream orders events by stream id then (created_at, id), the order
// both stores return FindByStreams results in.
func sortByStream(events []*model.Event) {
	slices.SortFunc(events, func(a, b *model.Event) int {
		if c := strings.Compare(a.StreamID, b.StreamID); c != 0 {
			return c
		}
		return model.Compare(a, b)
	})
}

func matchStreams(events map[string]*model.Event, streamIDs []string, lte *time.Time) []*model.Event {
	var out []*model.Event
	for _, e := range events {
		if !slices.Contains(streamIDs, e.StreamID) {
			continue
		}
		if lte != nil && e.CreatedAt.After(*lte) {
			continue
		}
		out = append(out, clone(e))
	}
	sortByStream(out)
	return out
}

func streamIDsAfter(events map[string]*model.Event, after string, limit int) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if e.StreamID <= after {
			continue
		}
		if _, ok := seen[e.StreamID]; ok {
			continue
		}
		seen[e.StreamID] = struct{}{}
		ids = append(ids, e.StreamID)
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func sorted(events map[string]*model.Event) []*model.Event {
	out := make([]*model.Event, 0, len(events))
	for _, e := range events {
		out = append(out, clone(e))
	}
	sortByStream(out)
	return out
}

// Hot is an in-memory store.HotStore.
type Hot struct {
	faults
	events map[string]*model.Event
	closed bool
}

var (
	_ store.HotStore   = (*Hot)(nil)
	_ store.Transactor = (*Hot)(nil)
)

// NewHot returns an empty hot store holding events.
func NewHot(events ...*model.Event) *Hot {
	h := &Hot{events: make(map[string]*model.Event)}
	for _, e := range events {
		h.events[e.ID] = clone(e)
	}
	return h
}

func (h *Hot) Append(_ context.Context, e *model.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter(OpAppend); err != nil {
		return err
	}
	if err, ok := h.rejects[e.ID]; ok {
		return err
	}
	if _, ok := h.events[e.ID]; ok {
		return fmt.Errorf("append %s: %w", e.ID, store.ErrDuplicateID)
	}
	h.events[e.ID] = clone(e)
	return nil
}

func (h *Hot) ListOldest(_ context.Context, after *model.Position, limit int) ([]*model.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter(OpListOldest); err != nil {
		return nil, err
	}
	var out []*model.Event
	for _, e := range h.events {
		if after != nil && e.Position().Compare(*after) <= 0 {
			continue
		}
		out = append(out, clone(e))
	}
	model.SortEvents(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *Hot) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter(OpDelete); err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err, ok := h.rejects[id]; ok {
			return 0, err
		}
	}
	var n int64
	for _, id := range ids {
		if _, ok := h.events[id]; ok {
			delete(h.events, id)
			n++
		}
	}
	return n, nil
}

func (h *Hot) FindByStreams(_ context.Context, streamIDs []string, lte *time.Time) ([]*model.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter(OpFind); err != nil {
		return nil, err
	}
	return matchStreams(h.events, streamIDs, lte), nil
}

func (h *Hot) ListStreamIDs(_ context.Context, after string, limit int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter(OpListStreamIDs); err != nil {
		return nil, err
	}
	return streamIDsAfter(h.events, after, limit), nil
}

// RunInTransaction applies fn to a copy of the store and keeps the copy only
// when fn succeeds.
func (h *Hot) RunInTransaction(ctx context.Context, fn func(tx store.HotStore) error) error {
	h.mu.Lock()
	tx := &Hot{events: make(map[string]*model.Event, len(h.events))}
	for id, e := range h.events {
		tx.events[id] = e
	}
	tx.errs = h.errs
	tx.rejects = h.rejects
	h.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = tx.events
	return nil
}

func (h *Hot) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *Hot) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Events returns a copy of every stored event ordered by stream then
// (created_at, id).
func (h *Hot) Events() []*model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sorted(h.events)
}

// Len returns the number of stored events.
func (h *Hot) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Cold is an in-memory store.ColdStore.
type Cold struct {
	faults
	events  map[string]*model.Event
	indexed bool
	closed  bool
}

var _ store.ColdStore = (*Cold)(nil)

// NewCold returns a cold store holding events.
func NewCold(events ...*model.Event) *Cold {
	c := &Cold{events: make(map[string]*model.Event)}
	for _, e := range events {
		c.events[e.ID] = clone(e)
	}
	return c
}

func (c *Cold) BulkInsert(_ context.Context, events []*model.Event) (store.BulkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res store.BulkResult
	if err := c.enter(OpBulkInsert); err != nil {
		return res, err
	}
	var failures []store.RecordFailure
	for _, e := range events {
		if err, ok := c.rejects[e.ID]; ok {
			failures = append(failures, store.RecordFailure{EventID: e.ID, Err: err})
			continue
		}
		if _, ok := c.events[e.ID]; ok {
			res.Duplicates++
			continue
		}
		c.events[e.ID] = clone(e)
		res.Inserted++
	}
	if len(failures) > 0 {
		return res, &store.PartialBatchError{Failures: failures}
	}
	return res, nil
}

func (c *Cold) FindByStreams(_ context.Context, streamIDs []string, lte *time.Time) (store.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpFind); err != nil {
		return nil, err
	}
	return store.NewSliceCursor(matchStreams(c.events, streamIDs, lte)), nil
}

func (c *Cold) DeleteOne(_ context.Context, streamID, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpDelete); err != nil {
		return err
	}
	if err, ok := c.rejects[eventID]; ok {
		return err
	}
	if e, ok := c.events[eventID]; ok && e.StreamID == streamID {
		delete(c.events, eventID)
	}
	return nil
}

func (c *Cold) EnsureIndexed(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpEnsureIndexed); err != nil {
		return err
	}
	c.indexed = true
	return nil
}

func (c *Cold) ListStreamIDs(_ context.Context, after string, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpListStreamIDs); err != nil {
		return nil, err
	}
	return streamIDsAfter(c.events, after, limit), nil
}

func (c *Cold) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Cold) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Indexed reports whether EnsureIndexed succeeded at least once.
func (c *Cold) Indexed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexed
}

// Events returns a copy of every stored event ordered by stream then
// (created_at, id).
func (c *Cold) Events() []*model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sorted(c.events)
}

// Len returns the number of stored events.
func (c *Cold) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
