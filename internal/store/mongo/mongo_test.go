package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/trackdechets/eventlog/internal/idgen"
	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

func TestToDoc_PayloadConversion(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &model.Event{
		ID: "evt_1", StreamID: "BSDA-1", Type: "BsdaUpdated", Actor: "user-1",
		Data:      json.RawMessage(`{"waste":{"code":"06 07 01*","quantity":1.5},"plates":["AB-123"]}`),
		CreatedAt: now,
	}
	doc, err := toDoc(e)
	if err != nil {
		t.Fatalf("toDoc: %v", err)
	}
	if doc.ID != "evt_1" || doc.StreamID != "BSDA-1" || doc.Metadata != nil {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	back, err := fromDoc(doc)
	if err != nil {
		t.Fatalf("fromDoc: %v", err)
	}
	if !model.SamePayload(back.Data, e.Data) {
		t.Errorf("payload changed through the cold store: %s vs %s", back.Data, e.Data)
	}
	if back.Metadata != nil {
		t.Errorf("absent metadata should stay absent, got %s", back.Metadata)
	}
	if !back.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", back.CreatedAt, now)
	}
}

func TestToDoc_PayloadRoundTripIsVerbatim(t *testing.T) {
	for _, payload := range []string{
		`{"n":12345678901234567890}`,
		`{"n":9007199254740993}`,
		`{"x":{"$numberLong":"5"}}`,
		`{"d":{"$date":"not a date"}}`,
		`{"q":1.50,"b":[true,null]}`,
	} {
		t.Run(payload, func(t *testing.T) {
			e := &model.Event{
				ID: "evt_1", StreamID: "S1", Type: "Updated",
				Data:      json.RawMessage(payload),
				Metadata:  json.RawMessage(payload),
				CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			}
			doc, err := toDoc(e)
			if err != nil {
				t.Fatalf("toDoc: %v", err)
			}
			raw, err := bson.Marshal(doc)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var stored eventDoc
			if err := bson.Unmarshal(raw, &stored); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			back, err := fromDoc(stored)
			if err != nil {
				t.Fatalf("fromDoc: %v", err)
			}
			if string(back.Data) != payload || string(back.Metadata) != payload {
				t.Errorf("round trip = %s / %s, want %s", back.Data, back.Metadata, payload)
			}
		})
	}
}

func TestFromDoc_QueryableCopyOnly(t *testing.T) {
	back, err := fromDoc(eventDoc{ID: "evt_1", Data: bson.M{"status": "SENT"}})
	if err != nil {
		t.Fatal(err)
	}
	if !model.SamePayload(back.Data, json.RawMessage(`{"status":"SENT"}`)) {
		t.Errorf("data = %s", back.Data)
	}
}

func TestToDoc_InvalidPayload(t *testing.T) {
	_, err := toDoc(&model.Event{ID: "evt_bad", Data: json.RawMessage(`{bad`)})
	if err == nil {
		t.Fatal("expected conversion error")
	}
}

func TestSplitInsertError(t *testing.T) {
	ids := []string{"evt_0", "evt_1", "evt_2"}

	dups, rejected, err := splitInsertError(nil, ids)
	if dups != 0 || rejected != nil || err != nil {
		t.Fatalf("nil error: got %d, %v, %v", dups, rejected, err)
	}

	bwe := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}},
		{WriteError: mongo.WriteError{Index: 2, Code: 2, Message: "document is invalid"}},
	}}
	dups, rejected, err = splitInsertError(bwe, ids)
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	if dups != 1 {
		t.Errorf("dups = %d, want 1", dups)
	}
	if len(rejected) != 1 || rejected[0].EventID != "evt_2" {
		t.Errorf("rejected = %+v, want evt_2", rejected)
	}

	wce := mongo.BulkWriteException{WriteConcernError: &mongo.WriteConcernError{Code: 64, Message: "waiting for replication timed out"}}
	if _, _, err := splitInsertError(wce, ids); err == nil {
		t.Error("write concern error should fail the whole batch")
	}

	if _, _, err := splitInsertError(errors.New("boom"), ids); err == nil {
		t.Error("non bulk error should fail the whole batch")
	}
}

func TestClassify(t *testing.T) {
	if err := classify("find", mongo.ErrClientDisconnected); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("disconnected client should be unavailable, got %v", err)
	}
	if err := classify("find", context.DeadlineExceeded); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("timeout should be unavailable, got %v", err)
	}
	err := classify("find", errors.New("bad query"))
	if errors.Is(err, store.ErrUnavailable) {
		t.Errorf("query error should not be unavailable, got %v", err)
	}
}

func TestStreamIndex_CoversReadSort(t *testing.T) {
	idx := streamIndex()
	keys, ok := idx.Keys.(bson.D)
	if !ok {
		t.Fatalf("index keys are %T", idx.Keys)
	}
	var names []string
	for _, k := range keys {
		names = append(names, k.Key)
	}
	if want := []string{"streamId", "createdAt", "_id"}; !slices.Equal(names, want) {
		t.Errorf("index keys = %v, want %v", names, want)
	}
	if idx.Options.Name == nil || *idx.Options.Name != streamIndexName {
		t.Errorf("index name = %v", idx.Options.Name)
	}
}

func TestNextStream(t *testing.T) {
	filter, opts := nextStream("S1")
	if gt := filter["streamId"].(bson.M)["$gt"]; gt != "S1" {
		t.Errorf("filter = %v", filter)
	}
	sort, ok := opts.Sort.(bson.D)
	if !ok || len(sort) != 1 || sort[0].Key != "streamId" || sort[0].Value != 1 {
		t.Errorf("sort = %v, want streamId ascending", opts.Sort)
	}
}

func TestStreamFilter(t *testing.T) {
	lte := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := streamFilter([]string{"S1"}, &lte)
	if _, ok := f["createdAt"]; !ok {
		t.Error("expected createdAt bound")
	}
	if _, ok := streamFilter([]string{"S1"}, nil)["createdAt"]; ok {
		t.Error("unexpected createdAt bound")
	}
}

// newTestStore connects to the deployment in EVLOG_TEST_MONGO_URL with a
// throwaway collection, or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("EVLOG_TEST_MONGO_URL")
	if uri == "" {
		t.Skip("EVLOG_TEST_MONGO_URL not set")
	}
	ctx := context.Background()
	coll, err := idgen.GenerateWithPrefix("events_test_")
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(ctx, uri, "eventlog_test", coll)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = s.coll.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := s.EnsureIndexed(ctx); err != nil {
			t.Fatalf("EnsureIndexed #%d: %v", i, err)
		}
	}

	events := []*model.Event{
		{ID: "evt_b", StreamID: "S1", Type: "Updated", Data: json.RawMessage(`{"a":2}`), CreatedAt: t0},
		{ID: "evt_a", StreamID: "S1", Type: "Created", Data: json.RawMessage(`{"a":1}`), CreatedAt: t0},
		{ID: "evt_c", StreamID: "S1", Type: "Updated", CreatedAt: t0.Add(time.Second)},
		{ID: "evt_d", StreamID: "S2", Type: "Created", CreatedAt: t0},
	}
	res, err := s.BulkInsert(ctx, events)
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if res.Inserted != 4 {
		t.Fatalf("inserted = %d, want 4", res.Inserted)
	}

	// Re-inserting is absorbed; a malformed payload is reported alone.
	retry := append(events[:2:2], &model.Event{ID: "evt_x", StreamID: "S1", Type: "T", Data: json.RawMessage(`{bad`), CreatedAt: t0})
	res, err = s.BulkInsert(ctx, retry)
	var pbe *store.PartialBatchError
	if !errors.As(err, &pbe) || len(pbe.Failures) != 1 || pbe.Failures[0].EventID != "evt_x" {
		t.Fatalf("expected partial failure for evt_x, got %v", err)
	}
	if res.Duplicates != 2 {
		t.Errorf("duplicates = %d, want 2", res.Duplicates)
	}

	got, err := store.FindColdStream(ctx, s, "S1", nil)
	if err != nil {
		t.Fatalf("FindColdStream: %v", err)
	}
	if ids := model.EventIDs(got); len(ids) != 3 || ids[0] != "evt_a" || ids[1] != "evt_b" || ids[2] != "evt_c" {
		t.Fatalf("stream order = %v", ids)
	}

	got, err = store.FindColdStream(ctx, s, "S1", &t0)
	if err != nil || len(got) != 2 {
		t.Fatalf("lte read = %v, %v", model.EventIDs(got), err)
	}

	if err := s.DeleteOne(ctx, "S1", "evt_b"); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if err := s.DeleteOne(ctx, "S1", "evt_b"); err != nil {
		t.Fatalf("DeleteOne of absent event: %v", err)
	}

	ids, err := s.ListStreamIDs(ctx, "", 10)
	if err != nil || len(ids) != 2 || ids[0] != "S1" || ids[1] != "S2" {
		t.Fatalf("ListStreamIDs = %v, %v", ids, err)
	}
	ids, err = s.ListStreamIDs(ctx, "S1", 10)
	if err != nil || len(ids) != 1 || ids[0] != "S2" {
		t.Fatalf("ListStreamIDs after S1 = %v, %v", ids, err)
	}
	ids, err = s.ListStreamIDs(ctx, "", 1)
	if err != nil || len(ids) != 1 || ids[0] != "S1" {
		t.Fatalf("ListStreamIDs limit 1 = %v, %v", ids, err)
	}
}
