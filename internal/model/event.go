package model

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Sentinel actors for events not caused by a user.
const (
	ActorScript  = "script"
	ActorSupport = "support"
)

// Event is one immutable entry of a stream's activity log. The same record
// shape lives in the hot store until it is migrated to the cold store.
type Event struct {
	ID        string          `json:"id"`
	StreamID  string          `json:"stream_id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Position returns the event's place in the (created_at, id) order.
func (e *Event) Position() Position {
	return Position{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Position is a point in the (created_at, id) order. It is used as a
// watermark when paging through a store oldest first.
type Position struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Compare orders positions by created_at, then lexicographically by id.
func (p Position) Compare(o Position) int {
	if c := p.CreatedAt.Compare(o.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(p.ID, o.ID)
}

// Compare orders events by (created_at, id) ascending.
func Compare(a, b *Event) int {
	return a.Position().Compare(b.Position())
}

// SortEvents sorts events in place by (created_at, id) ascending.
func SortEvents(events []*Event) {
	slices.SortFunc(events, Compare)
}

// StreamIDs returns the distinct stream ids of events, in first-seen order.
func StreamIDs(events []*Event) []string {
	seen := make(map[string]struct{}, len(events))
	var ids []string
	for _, e := range events {
		if _, ok := seen[e.StreamID]; ok {
			continue
		}
		seen[e.StreamID] = struct{}{}
		ids = append(ids, e.StreamID)
	}
	return ids
}

// EventIDs returns the ids of events in order.
func EventIDs(events []*Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
