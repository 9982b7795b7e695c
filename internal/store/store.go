// Package store defines the document store collaborator the repository
// layer talks to, plus the filter evaluation shared by the in-process
// backends.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrDuplicateKey is returned by Insert when the document's _id already
	// exists in the collection.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
)

// IDField is the primary key field of every collection.
const IDField = "_id"

// Direction orders a sort key.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// SortField is one (field, direction) pair of a sort specification.
type SortField struct {
	Field     string
	Direction Direction
}

// QueryOptions shapes a QueryMany result. Zero Limit means no limit.
type QueryOptions struct {
	Sort  []SortField
	Skip  int64
	Limit int64
}

// Store is a handle on a document store. Documents and filters are bson.M;
// updates are field assignments applied with $set semantics. Any error other
// than ErrDuplicateKey and ErrClosed is a connectivity or timeout failure.
type Store interface {
	Insert(ctx context.Context, collection string, doc bson.M) (any, error)
	QueryMany(ctx context.Context, collection string, filter bson.M, opts QueryOptions) ([]bson.M, error)
	// QueryOne returns nil, nil when nothing matches.
	QueryOne(ctx context.Context, collection string, filter bson.M) (bson.M, error)
	UpdateMany(ctx context.Context, collection string, filter bson.M, set bson.M) (int64, error)
	DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error)
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SortDocument renders a sort specification the way MongoDB expects it.
func SortDocument(sort []SortField) bson.D {
	if len(sort) == 0 {
		return nil
	}
	d := make(bson.D, 0, len(sort))
	for _, s := range sort {
		dir := s.Direction
		if dir != Descending {
			dir = Ascending
		}
		d = append(d, bson.E{Key: s.Field, Value: int(dir)})
	}
	return d
}
