// Package memory is an in-process document store. Collections keep
// documents in insertion order; every read and write goes through a BSON
// round trip so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

type collection struct {
	docs []bson.M
	ids  map[string]int // id key -> index into docs
}

// Store implements store.Store in memory.
type Store struct {
	mu     sync.RWMutex
	cols   map[string]*collection
	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{cols: make(map[string]*collection)}
}

func idKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func (s *Store) Insert(ctx context.Context, name string, doc bson.M) (any, error) {
	id, ok := doc[store.IDField]
	if !ok || id == nil {
		return nil, fmt.Errorf("memory insert %s: document has no %s", name, store.IDField)
	}
	cp, err := store.Clone(doc)
	if err != nil {
		return nil, fmt.Errorf("memory insert %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	col := s.cols[name]
	if col == nil {
		col = &collection{ids: make(map[string]int)}
		s.cols[name] = col
	}
	key := idKey(cp[store.IDField])
	if _, exists := col.ids[key]; exists {
		return nil, fmt.Errorf("%w: %s %v", store.ErrDuplicateKey, name, id)
	}
	col.ids[key] = len(col.docs)
	col.docs = append(col.docs, cp)
	return id, nil
}

// matching returns clones of the documents matching filter, in insertion
// order.
func (s *Store) matching(name string, filter bson.M) ([]bson.M, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	col := s.cols[name]
	if col == nil {
		return nil, nil
	}
	var out []bson.M
	for _, d := range col.docs {
		ok, err := store.Match(d, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cp, err := store.Clone(d)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) QueryMany(ctx context.Context, name string, filter bson.M, opts store.QueryOptions) ([]bson.M, error) {
	docs, err := s.matching(name, filter)
	if err != nil {
		return nil, err
	}
	return store.Apply(docs, opts), nil
}

func (s *Store) QueryOne(ctx context.Context, name string, filter bson.M) (bson.M, error) {
	docs, err := s.QueryMany(ctx, name, filter, store.QueryOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// matchIndexes evaluates filter over a collection before anything is
// mutated, so a bad filter leaves the collection untouched.
func matchIndexes(col *collection, filter bson.M) ([]int, error) {
	var idx []int
	for i, d := range col.docs {
		ok, err := store.Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func (s *Store) UpdateMany(ctx context.Context, name string, filter bson.M, set bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	col := s.cols[name]
	if col == nil {
		return 0, nil
	}
	idx, err := matchIndexes(col, filter)
	if err != nil {
		return 0, err
	}
	for _, i := range idx {
		cp, err := store.Clone(col.docs[i])
		if err != nil {
			return 0, err
		}
		store.SetFields(cp, set)
		if cp, err = store.Clone(cp); err != nil {
			return 0, err
		}
		col.docs[i] = cp
	}
	return int64(len(idx)), nil
}

func (s *Store) DeleteMany(ctx context.Context, name string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	col := s.cols[name]
	if col == nil {
		return 0, nil
	}
	idx, err := matchIndexes(col, filter)
	if err != nil || len(idx) == 0 {
		return 0, err
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := make([]bson.M, 0, len(col.docs)-len(idx))
	col.ids = make(map[string]int, cap(kept))
	for i, d := range col.docs {
		if drop[i] {
			continue
		}
		col.ids[idKey(d[store.IDField])] = len(kept)
		kept = append(kept, d)
	}
	col.docs = kept
	return int64(len(idx)), nil
}

func (s *Store) Count(ctx context.Context, name string, filter bson.M) (int64, error) {
	docs, err := s.matching(name, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close drops all data. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cols = nil
	return nil
}
