package mongo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/trackdechets/eventlog/internal/model"
)

// eventDoc is the stored shape of an event. The payload bytes are stored
// verbatim in dataJson and metadataJson and are what reads return. Data and
// Metadata are a native copy kept queryable from the mongo shell; numbers
// beyond int64 and extended JSON keys may not survive in that copy.
type eventDoc struct {
	ID           string    `bson:"_id"`
	StreamID     string    `bson:"streamId"`
	Type         string    `bson:"type"`
	Actor        string    `bson:"actor"`
	Data         bson.M    `bson:"data"`
	Metadata     bson.M    `bson:"metadata"`
	DataJSON     string    `bson:"dataJson,omitempty"`
	MetadataJSON string    `bson:"metadataJson,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func toDoc(e *model.Event) (eventDoc, error) {
	dataJSON, data, err := toPayload(e.Data)
	if err != nil {
		return eventDoc{}, fmt.Errorf("convert data: %w", err)
	}
	metadataJSON, metadata, err := toPayload(e.Metadata)
	if err != nil {
		return eventDoc{}, fmt.Errorf("convert metadata: %w", err)
	}
	return eventDoc{
		ID:           e.ID,
		StreamID:     e.StreamID,
		Type:         e.Type,
		Actor:        e.Actor,
		Data:         data,
		Metadata:     metadata,
		DataJSON:     dataJSON,
		MetadataJSON: metadataJSON,
		CreatedAt:    e.CreatedAt,
	}, nil
}

func fromDoc(d eventDoc) (*model.Event, error) {
	data, err := fromPayload(d.DataJSON, d.Data)
	if err != nil {
		return nil, fmt.Errorf("event %s: convert data: %w", d.ID, err)
	}
	metadata, err := fromPayload(d.MetadataJSON, d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("event %s: convert metadata: %w", d.ID, err)
	}
	return &model.Event{
		ID:        d.ID,
		StreamID:  d.StreamID,
		Type:      d.Type,
		Actor:     d.Actor,
		Data:      data,
		Metadata:  metadata,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

// toPayload returns the bytes to store verbatim and the queryable copy of
// raw. A payload that has no native equivalent is stored verbatim only.
func toPayload(raw json.RawMessage) (string, bson.M, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil, nil
	}
	if !json.Valid(raw) {
		return "", nil, errors.New("payload is not valid JSON")
	}
	m, err := toDocument(raw)
	if err != nil {
		m = nil
	}
	return string(raw), m, nil
}

// fromPayload prefers the verbatim bytes. Documents written before they
// were stored fall back to the queryable copy.
func fromPayload(verbatim string, m bson.M) (json.RawMessage, error) {
	if verbatim != "" {
		return json.RawMessage(verbatim), nil
	}
	return fromDocument(m)
}

func toDocument(raw json.RawMessage) (bson.M, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var m bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromDocument(m bson.M) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	b, err := bson.MarshalExtJSON(m, false, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
