package repository

import (
	"context"
	"iter"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// Results is the lazy outcome of Find. Each range over All issues the query
// again against the current store state under the context it is given; no
// cursor outlives an iteration.
type Results[T any, PT interface {
	*T
	models.Document
}] struct {
	repo   *Repository[T, PT]
	filter bson.M
	opts   store.QueryOptions
}

// All yields the matching documents in order. A store failure is yielded
// once with a nil document and ends the sequence.
func (res *Results[T, PT]) All(ctx context.Context) iter.Seq2[PT, error] {
	return func(yield func(PT, error) bool) {
		raws, err := res.repo.store.QueryMany(ctx, res.repo.collection, res.filter, res.opts)
		if err != nil {
			yield(nil, res.repo.storeError("query_many", err))
			return
		}
		for _, raw := range raws {
			doc, err := res.repo.decode(raw)
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

// Collect ranges over All and returns every document, or the first error.
func (res *Results[T, PT]) Collect(ctx context.Context) ([]PT, error) {
	var out []PT
	for doc, err := range res.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
