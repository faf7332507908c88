// Package mongo implements the cold store backed by a MongoDB collection.
// Each event is one document whose _id is the event id, so re-inserting a
// migrated event fails with a duplicate key error that BulkInsert absorbs.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

const (
	streamIndexName  = "streamId_1_createdAt_1__id_1"
	defaultBatchSize = 500
)

// streamOrder is both the stream index and the read sort, so stream reads
// walk the index without an in-memory sort.
var streamOrder = bson.D{{Key: "streamId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

// Store implements store.ColdStore.
type Store struct {
	client    *mongo.Client
	coll      *mongo.Collection
	batchSize int32
}

var _ store.ColdStore = (*Store)(nil)

// New connects to the MongoDB deployment at uri and uses the given
// database and collection for events.
func New(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, store.Unavailable("ping mongo", err)
	}
	return &Store{
		client:    client,
		coll:      client.Database(database).Collection(collection),
		batchSize: defaultBatchSize,
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func streamIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    streamOrder,
		Options: options.Index().SetName(streamIndexName),
	}
}

func (s *Store) EnsureIndexed(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, streamIndex())
	if err != nil {
		return classify("ensure stream index", err)
	}
	return nil
}

func (s *Store) BulkInsert(ctx context.Context, events []*model.Event) (store.BulkResult, error) {
	var (
		res      store.BulkResult
		failures []store.RecordFailure
		docs     = make([]any, 0, len(events))
		ids      = make([]string, 0, len(events))
	)
	for _, e := range events {
		doc, err := toDoc(e)
		if err != nil {
			failures = append(failures, store.RecordFailure{EventID: e.ID, Err: err})
			continue
		}
		docs = append(docs, doc)
		ids = append(ids, e.ID)
	}

	if len(docs) > 0 {
		_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		dups, rejected, err := splitInsertError(err, ids)
		if err != nil {
			return res, err
		}
		res.Duplicates = dups
		res.Inserted = len(docs) - dups - len(rejected)
		failures = append(failures, rejected...)
	}

	if len(failures) > 0 {
		return res, &store.PartialBatchError{Failures: failures}
	}
	return res, nil
}

func (s *Store) FindByStreams(ctx context.Context, streamIDs []string, lte *time.Time) (store.Cursor, error) {
	if len(streamIDs) == 0 {
		return store.NewSliceCursor(nil), nil
	}
	cur, err := s.coll.Find(ctx, streamFilter(streamIDs, lte), options.Find().
		SetSort(streamOrder).
		SetBatchSize(s.batchSize))
	if err != nil {
		return nil, classify("find stream events", err)
	}
	return &cursor{cur: cur}, nil
}

func (s *Store) DeleteOne(ctx context.Context, streamID, eventID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": eventID, "streamId": streamID})
	if err != nil {
		return classify("delete event "+eventID, err)
	}
	return nil
}

// ListStreamIDs seeks the stream index once per id, so a page costs limit
// index lookups however many events or streams the collection holds.
func (s *Store) ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error) {
	var ids []string
	for len(ids) < limit {
		filter, opts := nextStream(after)
		var row struct {
			StreamID string `bson:"streamId"`
		}
		err := s.coll.FindOne(ctx, filter, opts).Decode(&row)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, classify("list stream ids", err)
		}
		ids = append(ids, row.StreamID)
		after = row.StreamID
	}
	return ids, nil
}

// nextStream finds the first stream id sorting after after.
func nextStream(after string) (bson.M, *options.FindOneOptions) {
	return bson.M{"streamId": bson.M{"$gt": after}}, options.FindOne().
		SetSort(bson.D{{Key: "streamId", Value: 1}}).
		SetProjection(bson.M{"_id": 0, "streamId": 1})
}

func streamFilter(streamIDs []string, lte *time.Time) bson.M {
	filter := bson.M{"streamId": bson.M{"$in": streamIDs}}
	if lte != nil {
		filter["createdAt"] = bson.M{"$lte": *lte}
	}
	return filter
}

// cursor adapts a *mongo.Cursor to store.Cursor, decoding as it goes.
type cursor struct {
	cur   *mongo.Cursor
	event *model.Event
	err   error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		c.event = nil
		return false
	}
	var doc eventDoc
	if err := c.cur.Decode(&doc); err != nil {
		c.err = fmt.Errorf("decode event: %w", err)
		return false
	}
	e, err := fromDoc(doc)
	if err != nil {
		c.err = err
		return false
	}
	c.event = e
	return true
}

func (c *cursor) Event() *model.Event { return c.event }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cur.Err(); err != nil {
		return classify("read stream events", err)
	}
	return nil
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// duplicate key error codes reported by MongoDB.
func isDuplicateKeyCode(code int) bool {
	return code == 11000 || code == 11001 || code == 12582
}

// splitInsertError sorts the error of an unordered InsertMany into duplicate
// records, rejected records and a batch-level error. ids holds the event id
// of each inserted document by index.
func splitInsertError(err error, ids []string) (int, []store.RecordFailure, error) {
	if err == nil {
		return 0, nil, nil
	}
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return 0, nil, classify("bulk insert", err)
	}

	var (
		dups     int
		rejected []store.RecordFailure
	)
	for _, we := range bwe.WriteErrors {
		if isDuplicateKeyCode(we.Code) {
			dups++
			continue
		}
		var id string
		if we.Index >= 0 && we.Index < len(ids) {
			id = ids[we.Index]
		}
		rejected = append(rejected, store.RecordFailure{
			EventID: id,
			Err:     fmt.Errorf("write error %d: %s", we.Code, we.Message),
		})
	}
	return dups, rejected, nil
}

// classify marks network, timeout and disconnect errors as store.ErrUnavailable.
func classify(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return store.Unavailable("cold store: "+op, err)
	}
	return fmt.Errorf("cold store: %s: %w", op, err)
}
