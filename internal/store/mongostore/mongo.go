// Package mongostore implements store.Store on a MongoDB database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Store owns a connected client and issues every operation against one
// logical database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// filterOrAll substitutes an empty document for nil, which the driver
// rejects.
func filterOrAll(f bson.M) bson.M {
	if f == nil {
		return bson.M{}
	}
	return f
}

func (s *Store) Insert(ctx context.Context, col string, doc bson.M) (any, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	res, err := s.db.Collection(col).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s %v", store.ErrDuplicateKey, col, doc[store.IDField])
		}
		return nil, fmt.Errorf("mongo insert %s: %w", col, err)
	}
	return res.InsertedID, nil
}

func (s *Store) QueryMany(ctx context.Context, col string, filter bson.M, opts store.QueryOptions) ([]bson.M, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	findOpts := options.Find()
	if sort := store.SortDocument(opts.Sort); sort != nil {
		findOpts.SetSort(sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	cur, err := s.db.Collection(col).Find(ctx, filterOrAll(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", col, err)
	}
	defer cur.Close(ctx)
	out := []bson.M{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", col, err)
	}
	return out, nil
}

func (s *Store) QueryOne(ctx context.Context, col string, filter bson.M) (bson.M, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	var doc bson.M
	err := s.db.Collection(col).FindOne(ctx, filterOrAll(filter)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo find one %s: %w", col, err)
	}
	return doc, nil
}

// UpdateMany reports matched documents: every matched document is modified
// because callers always stamp updatedAt.
func (s *Store) UpdateMany(ctx context.Context, col string, filter bson.M, set bson.M) (int64, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	res, err := s.db.Collection(col).UpdateMany(ctx, filterOrAll(filter), bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("mongo update %s: %w", col, err)
	}
	return res.MatchedCount, nil
}

func (s *Store) DeleteMany(ctx context.Context, col string, filter bson.M) (int64, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	res, err := s.db.Collection(col).DeleteMany(ctx, filterOrAll(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo delete %s: %w", col, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Count(ctx context.Context, col string, filter bson.M) (int64, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	n, err := s.db.Collection(col).CountDocuments(ctx, filterOrAll(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo count %s: %w", col, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Disconnect(ctx)
}
