package events

import (
	"context"
	"sync"
)

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// Published is one notification captured by a Recorder.
type Published struct {
	Topic string
	Event any
}

// Recorder is a Publisher that keeps every notification in memory. Err, when
// set, is returned by Publish after recording.
type Recorder struct {
	mu     sync.Mutex
	events []Published
	Err    error
}

func (r *Recorder) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Topic: topic, Event: event})
	return r.Err
}

func (r *Recorder) Close() error { return nil }

// Topic returns the notifications published on topic, in order.
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, p := range r.events {
		if p.Topic == topic {
			out = append(out, p.Event)
		}
	}
	return out
}
