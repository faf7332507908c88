// Package export writes stream histories as JSONL archives, one object per
// stream, to S3 or a local directory.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/trackdechets/eventlog/internal/model"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	StreamCount int       `json:"stream_count"`
	EventCount  int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StreamReader answers a batch of stream queries, result i for query i.
type StreamReader interface {
	Read(ctx context.Context, queries []model.StreamQuery) ([][]*model.Event, error)
}

// ExportJSONL writes a header line then the merged events of every query,
// query by query, each stream in (created_at, id) order.
func ExportJSONL(ctx context.Context, r StreamReader, queries []model.StreamQuery, w io.Writer) error {
	results, err := r.Read(ctx, queries)
	if err != nil {
		return fmt.Errorf("read streams: %w", err)
	}
	return encode(w, results)
}

func encode(w io.Writer, results [][]*model.Event) error {
	count := 0
	for _, events := range results {
		count += len(events)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     "1",
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		StreamCount: len(results),
		EventCount:  count,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, events := range results {
		for _, e := range events {
			if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
				return fmt.Errorf("encode event %s: %w", e.ID, err)
			}
		}
	}
	return nil
}

// Destination is the interface for an export target.
type Destination interface {
	// Write stores the JSONL payload of one stream under name.
	Write(ctx context.Context, name string, data []byte) error
}

// objectTimeLayout keeps point-in-time object names free of ':'.
const objectTimeLayout = "20060102T150405.000Z"

// ObjectName returns the name the archive answering q is written under.
// A point-in-time query gets its bound in the name, so exports of the same
// stream at different times never overwrite each other.
func ObjectName(q model.StreamQuery) string {
	if q.Lte == nil {
		return q.StreamID + ".jsonl"
	}
	return q.StreamID + "@" + q.Lte.UTC().Format(objectTimeLayout) + ".jsonl"
}

// Exporter writes one archive per stream to every destination.
type Exporter struct {
	reader       StreamReader
	destinations []Destination
	logger       *slog.Logger
}

// NewExporter creates an exporter reading through r.
func NewExporter(r StreamReader, destinations []Destination, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{reader: r, destinations: destinations, logger: logger}
}

// Result counts what an export wrote.
type Result struct {
	Streams int `json:"streams"`
	Events  int `json:"events"`
	Bytes   int `json:"bytes"`
	Failed  int `json:"failed"`
}

// Export reads the queried streams in one batch and writes each to every
// destination. Repeated queries are written once. A failed destination
// write is logged and counted; reading failures are returned.
func (x *Exporter) Export(ctx context.Context, queries []model.StreamQuery) (Result, error) {
	var res Result
	results, err := x.reader.Read(ctx, queries)
	if err != nil {
		return res, fmt.Errorf("read streams: %w", err)
	}

	written := make(map[string]bool, len(queries))
	for i, q := range queries {
		name := ObjectName(q)
		if written[name] {
			continue
		}
		written[name] = true

		var buf bytes.Buffer
		if err := encode(&buf, results[i:i+1]); err != nil {
			return res, err
		}
		data := buf.Bytes()
		for j, dest := range x.destinations {
			if err := dest.Write(ctx, name, data); err != nil {
				res.Failed++
				x.logger.Error("export destination write failed",
					"destination", fmt.Sprintf("%d", j), "stream_id", q.StreamID, "err", err)
			}
		}
		res.Streams++
		res.Events += len(results[i])
		res.Bytes += len(data)
	}

	x.logger.Info("export completed",
		"streams", res.Streams, "events", res.Events, "bytes", res.Bytes, "failed", res.Failed,
		"destinations", len(x.destinations))
	return res, nil
}
