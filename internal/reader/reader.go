// Package reader answers stream queries by merging both stores.
//
// An event is in the hot store, the cold store, or (between a cold copy and
// the matching hot delete) both. Read queries both stores at once, takes the
// cold events first and then only the hot events whose id it has not seen
// for that query, so each event is reported once whatever migration is
// doing.
package reader

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

// Reader merges the hot and cold stores.
type Reader struct {
	hot    store.HotStore
	cold   store.ColdStore
	logger *slog.Logger
}

// New returns a Reader over the two stores.
func New(hot store.HotStore, cold store.ColdStore, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{hot: hot, cold: cold, logger: logger}
}

// accumulator collects the events answering one distinct query key.
type accumulator struct {
	query  model.StreamQuery
	events []*model.Event
	seen   map[string]struct{}
}

func (a *accumulator) add(e *model.Event) {
	if !a.query.Matches(e) {
		return
	}
	if _, ok := a.seen[e.ID]; ok {
		return
	}
	a.seen[e.ID] = struct{}{}
	a.events = append(a.events, e)
}

// Read returns, for each query, the events of its stream created at or
// before its lte bound, ordered by (created_at, id). Result i answers query
// i; queries with the same key get separate slices. A failure of either
// store fails the whole call.
func (r *Reader) Read(ctx context.Context, queries []model.StreamQuery) ([][]*model.Event, error) {
	out := make([][]*model.Event, len(queries))
	if len(queries) == 0 {
		return out, nil
	}

	accs := make(map[string]*accumulator, len(queries))
	byStream := make(map[string][]*accumulator)
	for _, q := range queries {
		key := q.Key()
		if _, ok := accs[key]; ok {
			continue
		}
		acc := &accumulator{query: q, seen: make(map[string]struct{})}
		accs[key] = acc
		byStream[q.StreamID] = append(byStream[q.StreamID], acc)
	}

	streamIDs := model.QueryStreamIDs(queries)
	bound := model.MaxLte(queries)

	var hotEvents []*model.Event
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cur, err := r.cold.FindByStreams(gctx, streamIDs, bound)
		if err != nil {
			return fmt.Errorf("query cold store: %w", err)
		}
		defer cur.Close(context.WithoutCancel(gctx))
		for cur.Next(gctx) {
			e := cur.Event()
			for _, acc := range byStream[e.StreamID] {
				acc.add(e)
			}
		}
		if err := cur.Err(); err != nil {
			return fmt.Errorf("read cold store: %w", err)
		}
		return gctx.Err()
	})
	g.Go(func() error {
		events, err := r.hot.FindByStreams(gctx, streamIDs, bound)
		if err != nil {
			return fmt.Errorf("query hot store: %w", err)
		}
		hotEvents = events
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, e := range hotEvents {
		for _, acc := range byStream[e.StreamID] {
			acc.add(e)
		}
	}

	for _, acc := range accs {
		model.SortEvents(acc.events)
	}
	for i, q := range queries {
		events := accs[q.Key()].events
		result := make([]*model.Event, len(events))
		copy(result, events)
		out[i] = result
	}

	r.logger.Debug("streams read", "queries", len(queries), "keys", len(accs), "streams", len(streamIDs))
	return out, nil
}

// ReadStream returns the events of one stream.
func (r *Reader) ReadStream(ctx context.Context, q model.StreamQuery) ([]*model.Event, error) {
	out, err := r.Read(ctx, []model.StreamQuery{q})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
