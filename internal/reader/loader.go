package reader

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/trackdechets/eventlog/internal/model"
)

// Loader defaults.
const (
	DefaultWait     = 2 * time.Millisecond
	DefaultMaxBatch = 100
)

// ReadFunc answers a batch of queries, result i for query i.
type ReadFunc func(ctx context.Context, queries []model.StreamQuery) ([][]*model.Event, error)

// LoaderOptions tunes a Loader. Zero values select the defaults.
type LoaderOptions struct {
	// Wait is how long the first Load of a batch waits for others to join.
	Wait time.Duration
	// MaxBatch dispatches a batch as soon as it holds this many keys.
	MaxBatch int
	Clock    clock.Clock
}

// Loader coalesces the stream queries made while serving one request into
// batched reads, and caches each answer by query key for its lifetime.
// A Loader must not outlive the request it was created for.
type Loader struct {
	ctx      context.Context
	read     ReadFunc
	wait     time.Duration
	maxBatch int
	clock    clock.Clock

	mu    sync.Mutex
	cache map[string]*result
	batch *batch
}

type result struct {
	done   chan struct{}
	events []*model.Event
	err    error
}

type batch struct {
	keys    []string
	queries []model.StreamQuery
	results []*result
	timer   clock.Timer
	once    sync.Once
}

// NewLoader returns a Loader issuing its reads with ctx.
func NewLoader(ctx context.Context, read ReadFunc, opts LoaderOptions) *Loader {
	l := &Loader{
		ctx:      ctx,
		read:     read,
		wait:     opts.Wait,
		maxBatch: opts.MaxBatch,
		clock:    opts.Clock,
		cache:    make(map[string]*result),
	}
	if l.wait <= 0 {
		l.wait = DefaultWait
	}
	if l.maxBatch <= 0 {
		l.maxBatch = DefaultMaxBatch
	}
	if l.clock == nil {
		l.clock = clock.WallClock
	}
	return l
}

// Load returns the events answering q.
func (l *Loader) Load(ctx context.Context, q model.StreamQuery) ([]*model.Event, error) {
	l.mu.Lock()
	res := l.enqueue(q)
	l.mu.Unlock()
	return l.await(ctx, res)
}

// LoadMany returns the events answering each query, result i for query i.
// All queries not yet cached join the same batch.
func (l *Loader) LoadMany(ctx context.Context, queries []model.StreamQuery) ([][]*model.Event, error) {
	l.mu.Lock()
	pending := make([]*result, len(queries))
	for i, q := range queries {
		pending[i] = l.enqueue(q)
	}
	l.mu.Unlock()

	out := make([][]*model.Event, len(queries))
	for i, res := range pending {
		events, err := l.await(ctx, res)
		if err != nil {
			return nil, err
		}
		out[i] = events
	}
	return out, nil
}

// enqueue returns the cached or pending result for q, adding q to the open
// batch if needed. It must be called with mu held.
func (l *Loader) enqueue(q model.StreamQuery) *result {
	key := q.Key()
	if res, ok := l.cache[key]; ok {
		return res
	}
	res := &result{done: make(chan struct{})}
	l.cache[key] = res

	b := l.batch
	if b == nil {
		b = &batch{}
		l.batch = b
		b.timer = l.clock.AfterFunc(l.wait, func() { l.flush(b) })
	}
	b.keys = append(b.keys, key)
	b.queries = append(b.queries, q)
	b.results = append(b.results, res)

	if len(b.queries) >= l.maxBatch {
		l.batch = nil
		b.timer.Stop()
		go l.dispatch(b)
	}
	return res
}

// flush dispatches b when its wait expires, unless it was already sent.
func (l *Loader) flush(b *batch) {
	l.mu.Lock()
	if l.batch == b {
		l.batch = nil
	}
	l.mu.Unlock()
	l.dispatch(b)
}

func (l *Loader) dispatch(b *batch) {
	b.once.Do(func() {
		out, err := l.read(l.ctx, b.queries)
		if err != nil {
			// Failed keys are forgotten so a later Load retries them.
			l.mu.Lock()
			for i, key := range b.keys {
				if l.cache[key] == b.results[i] {
					delete(l.cache, key)
				}
			}
			l.mu.Unlock()
		}
		for i, res := range b.results {
			if err != nil {
				res.err = err
			} else {
				res.events = out[i]
			}
			close(res.done)
		}
	})
}

func (l *Loader) await(ctx context.Context, res *result) ([]*model.Event, error) {
	select {
	case <-res.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	events := slices.Clone(res.events)
	if events == nil {
		events = []*model.Event{}
	}
	return events, nil
}
