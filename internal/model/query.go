package model

import (
	"fmt"
	"strings"
	"time"
)

// StreamQuery asks for the events of one stream, optionally as of a past
// instant. A nil Lte means the whole stream.
type StreamQuery struct {
	StreamID string
	Lte      *time.Time
}

// Key returns the value key "streamId:lte" used to address a query's
// accumulated result. Queries with the same key are interchangeable.
func (q StreamQuery) Key() string {
	if q.Lte == nil {
		return q.StreamID + ":none"
	}
	return q.StreamID + ":" + q.Lte.UTC().Format(time.RFC3339Nano)
}

// Matches reports whether e belongs to the query's stream and was created at
// or before its lte bound.
func (q StreamQuery) Matches(e *Event) bool {
	if e.StreamID != q.StreamID {
		return false
	}
	return q.Lte == nil || !e.CreatedAt.After(*q.Lte)
}

// ParseStreamQuery parses "streamId" or "streamId@lte" where lte is RFC 3339.
func ParseStreamQuery(s string) (StreamQuery, error) {
	id, lte, found := strings.Cut(s, "@")
	if id == "" {
		return StreamQuery{}, fmt.Errorf("stream query %q: empty stream id", s)
	}
	q := StreamQuery{StreamID: id}
	if !found {
		return q, nil
	}
	t, err := time.Parse(time.RFC3339Nano, lte)
	if err != nil {
		return StreamQuery{}, fmt.Errorf("stream query %q: %w", s, err)
	}
	q.Lte = &t
	return q, nil
}

// QueryStreamIDs returns the distinct stream ids across queries, in
// first-seen order.
func QueryStreamIDs(queries []StreamQuery) []string {
	seen := make(map[string]struct{}, len(queries))
	var ids []string
	for _, q := range queries {
		if _, ok := seen[q.StreamID]; ok {
			continue
		}
		seen[q.StreamID] = struct{}{}
		ids = append(ids, q.StreamID)
	}
	return ids
}

// MaxLte returns the latest lte bound across queries, or nil if any query is
// unbounded (or there are none).
func MaxLte(queries []StreamQuery) *time.Time {
	var max *time.Time
	for _, q := range queries {
		if q.Lte == nil {
			return nil
		}
		if max == nil || q.Lte.After(*max) {
			t := *q.Lte
			max = &t
		}
	}
	return max
}
