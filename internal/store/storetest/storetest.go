// Package storetest holds the behavioural checks every store.Store backend
// must pass. Backend tests call Run with a constructor for a fresh store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// Run exercises a backend. newStore must return an empty, open store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("InsertAndQueryOne", func(t *testing.T) { testInsertAndQueryOne(t, newStore(t)) })
	t.Run("DuplicateKey", func(t *testing.T) { testDuplicateKey(t, newStore(t)) })
	t.Run("QueryManyOptions", func(t *testing.T) { testQueryManyOptions(t, newStore(t)) })
	t.Run("UpdateMany", func(t *testing.T) { testUpdateMany(t, newStore(t)) })
	t.Run("DeleteMany", func(t *testing.T) { testDeleteMany(t, newStore(t)) })
	t.Run("CollectionsAreIsolated", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func testInsertAndQueryOne(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC)
	id, err := s.Insert(ctx, "files", bson.M{"_id": "f1", "name": "a.tex", "createdAt": created})
	require.NoError(t, err)
	require.Equal(t, "f1", id)

	got, err := s.QueryOne(ctx, "files", bson.M{"_id": "f1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "a.tex", got["name"])
	require.True(t, store.Equal(created, got["createdAt"]))

	missing, err := s.QueryOne(ctx, "files", bson.M{"_id": "nope"})
	require.NoError(t, err)
	require.Nil(t, missing)

	none, err := s.QueryOne(ctx, "unknown", bson.M{})
	require.NoError(t, err)
	require.Nil(t, none)
}

func testDuplicateKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, "files", bson.M{"_id": "f1", "name": "first"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "files", bson.M{"_id": "f1", "name": "second"})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	got, err := s.QueryOne(ctx, "files", bson.M{"_id": "f1"})
	require.NoError(t, err)
	require.Equal(t, "first", got["name"])
}

func testQueryManyOptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		status := "active"
		if i == 2 {
			status = "archived"
		}
		_, err := s.Insert(ctx, "files", bson.M{
			"_id":       fmt.Sprintf("f%d", i),
			"status":    status,
			"rank":      5 - i,
			"createdAt": base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	all, err := s.QueryMany(ctx, "files", bson.M{}, store.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, all, 6)

	active, err := s.QueryMany(ctx, "files", bson.M{"status": "active"}, store.QueryOptions{
		Sort:  []store.SortField{{Field: "createdAt", Direction: store.Ascending}},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []any{"f0", "f1"}, ids(active))

	skipped, err := s.QueryMany(ctx, "files", bson.M{"status": "active"}, store.QueryOptions{
		Sort: []store.SortField{{Field: "rank", Direction: store.Ascending}},
		Skip: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []any{"f4", "f3", "f1", "f0"}, ids(skipped))

	desc, err := s.QueryMany(ctx, "files", bson.M{"rank": bson.M{"$gte": 3}}, store.QueryOptions{
		Sort: []store.SortField{{Field: "createdAt", Direction: store.Descending}},
	})
	require.NoError(t, err)
	require.Equal(t, []any{"f2", "f1", "f0"}, ids(desc))

	n, err := s.Count(ctx, "files", bson.M{"status": "active"})
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func testUpdateMany(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		group := "x"
		if id == "c" {
			group = "y"
		}
		_, err := s.Insert(ctx, "files", bson.M{"_id": id, "group": group, "name": id})
		require.NoError(t, err)
	}
	n, err := s.UpdateMany(ctx, "files", bson.M{"group": "x"}, bson.M{"name": "renamed", "extra": int32(7)})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := s.QueryOne(ctx, "files", bson.M{"_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "renamed", got["name"])
	require.True(t, store.Equal(7, got["extra"]))

	untouched, err := s.QueryOne(ctx, "files", bson.M{"_id": "c"})
	require.NoError(t, err)
	require.Equal(t, "c", untouched["name"])

	zero, err := s.UpdateMany(ctx, "files", bson.M{"group": "none"}, bson.M{"name": "z"})
	require.NoError(t, err)
	require.EqualValues(t, 0, zero)
}

func testDeleteMany(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, "files", bson.M{"_id": id, "keep": id == "b"})
		require.NoError(t, err)
	}
	n, err := s.DeleteMany(ctx, "files", bson.M{"keep": false})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	rest, err := s.QueryMany(ctx, "files", bson.M{}, store.QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, []any{"b"}, ids(rest))

	// a deleted id can be reused
	_, err = s.Insert(ctx, "files", bson.M{"_id": "a"})
	require.NoError(t, err)

	zero, err := s.DeleteMany(ctx, "files", bson.M{"_id": "nope"})
	require.NoError(t, err)
	require.EqualValues(t, 0, zero)
}

func testIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, "users", bson.M{"_id": "1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "sessions", bson.M{"_id": "1"})
	require.NoError(t, err)
	n, err := s.Count(ctx, "users", bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func testConcurrentInserts(t *testing.T, s store.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every id is inserted twice; exactly one insert per id wins
			_, err := s.Insert(ctx, "files", bson.M{"_id": fmt.Sprintf("f%d", i%10)})
			if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	n, err := s.Count(ctx, "files", bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 10, n)
}

func testClosed(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	_, err := s.Insert(ctx, "files", bson.M{"_id": "x"})
	require.Error(t, err)
	_, err = s.QueryMany(ctx, "files", bson.M{}, store.QueryOptions{})
	require.Error(t, err)
}

func ids(docs []bson.M) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d[store.IDField]
	}
	return out
}
