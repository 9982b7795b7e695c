package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store/memory"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type owner struct {
	Name string `bson:"name"`
}

type note struct {
	models.Base `bson:",inline"`
	Title       string         `bson:"title"`
	Status      string         `bson:"status,omitempty"`
	Rank        int            `bson:"rank"`
	Owner       owner          `bson:"owner"`
	Meta        map[string]any `bson:"meta,omitempty"`
	Tags        []string       `bson:"tags,omitempty"`
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s%d", prefix, n.Add(1)) }
}

// countingStore records how many calls reach the store and can fail them.
type countingStore struct {
	store.Store
	calls atomic.Int32
	err   error
}

func (s *countingStore) hit() error {
	s.calls.Add(1)
	return s.err
}

func (s *countingStore) Insert(ctx context.Context, c string, doc bson.M) (any, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	return s.Store.Insert(ctx, c, doc)
}

func (s *countingStore) QueryMany(ctx context.Context, c string, f bson.M, o store.QueryOptions) ([]bson.M, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	return s.Store.QueryMany(ctx, c, f, o)
}

func (s *countingStore) QueryOne(ctx context.Context, c string, f bson.M) (bson.M, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	return s.Store.QueryOne(ctx, c, f)
}

func (s *countingStore) UpdateMany(ctx context.Context, c string, f, set bson.M) (int64, error) {
	if err := s.hit(); err != nil {
		return 0, err
	}
	return s.Store.UpdateMany(ctx, c, f, set)
}

func (s *countingStore) DeleteMany(ctx context.Context, c string, f bson.M) (int64, error) {
	if err := s.hit(); err != nil {
		return 0, err
	}
	return s.Store.DeleteMany(ctx, c, f)
}

func (s *countingStore) Count(ctx context.Context, c string, f bson.M) (int64, error) {
	if err := s.hit(); err != nil {
		return 0, err
	}
	return s.Store.Count(ctx, c, f)
}

type fixture struct {
	repo  *Repository[note, *note]
	clock *fakeClock
	store *countingStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := &fakeClock{t: epoch}
	cs := &countingStore{Store: memory.New()}
	repo, err := New[note](cs, "notes", WithClock(clock.Now), WithIDGenerator(sequentialIDs("x")))
	require.NoError(t, err)
	return fixture{repo: repo, clock: clock, store: cs}
}

func requireTime(t *testing.T, want, got time.Time) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func TestNew_RejectsMissingArguments(t *testing.T) {
	_, err := New[note](nil, "notes")
	require.Error(t, err)
	_, err = New[note](memory.New(), " ")
	require.Error(t, err)
}

func TestCreate_AssignsIDAndTimestamps(t *testing.T) {
	f := newFixture(t)
	in := &note{Title: "a"}
	got, err := f.repo.Create(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, "x1", got.ID)
	require.Equal(t, "a", got.Title)
	requireTime(t, epoch, got.CreatedAt)
	requireTime(t, got.CreatedAt, got.UpdatedAt)

	// the caller's value is left alone
	require.Empty(t, in.ID)
	require.True(t, in.CreatedAt.IsZero())
}

func TestCreate_DefaultIDsAreUnique(t *testing.T) {
	repo, err := New[note](memory.New(), "notes")
	require.NoError(t, err)
	a, err := repo.Create(context.Background(), &note{Title: "a"})
	require.NoError(t, err)
	b, err := repo.Create(context.Background(), &note{Title: "b"})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestCreate_KeepsCallerIDAndCreatedAt(t *testing.T) {
	f := newFixture(t)
	created := epoch.Add(-time.Hour).Add(123456 * time.Nanosecond)
	in := &note{Base: models.Base{ID: "mine", CreatedAt: created, UpdatedAt: epoch.Add(-48 * time.Hour)}, Title: "a"}
	got, err := f.repo.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "mine", got.ID)
	requireTime(t, created.Truncate(time.Millisecond), got.CreatedAt)
	requireTime(t, epoch, got.UpdatedAt)
}

func TestCreate_RejectsFutureCreatedAt(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Create(context.Background(), &note{Base: models.Base{CreatedAt: epoch.Add(time.Minute)}})
	require.ErrorIs(t, err, ErrValidation)
	require.Zero(t, f.store.calls.Load())
}

func TestCreate_DuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.Create(ctx, &note{Base: models.Base{ID: "dup"}, Title: "first"})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	_, err = f.repo.Create(ctx, &note{Base: models.Base{ID: "dup"}, Title: "second"})
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	got, err := f.repo.Get(ctx, "dup")
	require.NoError(t, err)
	require.Equal(t, "first", got.Title)
	requireTime(t, epoch, got.UpdatedAt)
}

func TestScenario_CreateUpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, &note{Title: "a"})
	require.NoError(t, err)
	require.Equal(t, "x1", created.ID)
	T := created.CreatedAt

	f.clock.Advance(5 * time.Second)
	n, err := f.repo.Update(ctx, bson.M{"id": "x1"}, bson.M{"title": "b"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, ok, err := f.repo.FindByID(ctx, "x1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", got.Title)
	requireTime(t, T, got.CreatedAt)
	require.True(t, got.UpdatedAt.After(T))

	deleted, err := f.repo.DeleteOne(ctx, bson.M{"id": "x1"})
	require.NoError(t, err)
	require.True(t, deleted)

	got, ok, err = f.repo.FindByID(ctx, "x1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestUpdate_IgnoresIdentityFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig, err := f.repo.Create(ctx, &note{Title: "a"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	n, err := f.repo.Update(ctx, bson.M{"_id": orig.ID}, bson.M{
		"id":        "hijacked",
		"_id":       "hijacked",
		"createdAt": epoch.Add(-time.Hour),
		"updatedAt": epoch.Add(-time.Hour),
		"rank":      7,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := f.repo.Get(ctx, orig.ID)
	require.NoError(t, err)
	require.Equal(t, orig.ID, got.ID)
	require.Equal(t, 7, got.Rank)
	requireTime(t, orig.CreatedAt, got.CreatedAt)
	requireTime(t, epoch.Add(time.Minute), got.UpdatedAt)

	_, ok, err := f.repo.FindByID(ctx, "hijacked")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdate_UpdatedAtIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.repo.Create(ctx, &note{Title: "a"})
	require.NoError(t, err)

	last := doc.UpdatedAt
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Duration(i) * time.Millisecond)
		_, err := f.repo.Update(ctx, bson.M{"id": doc.ID}, bson.M{"rank": i})
		require.NoError(t, err)
		got, err := f.repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		require.False(t, got.UpdatedAt.Before(last))
		requireTime(t, f.clock.Now(), got.UpdatedAt)
		require.False(t, got.UpdatedAt.Before(got.CreatedAt))
		last = got.UpdatedAt
	}
}

func TestUpdate_ManyAndNone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, s := range []string{"active", "active", "archived"} {
		_, err := f.repo.Create(ctx, &note{Status: s})
		require.NoError(t, err)
	}
	n, err := f.repo.Update(ctx, bson.M{"status": "active"}, bson.M{"rank": 1})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = f.repo.Update(ctx, bson.M{"status": "missing"}, bson.M{"rank": 1})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUpdate_NestedPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.repo.Create(ctx, &note{Title: "a"})
	require.NoError(t, err)

	_, err = f.repo.Update(ctx, bson.M{"id": doc.ID}, bson.M{"owner.name": "ada", "meta.lang": "de"})
	require.NoError(t, err)

	got, ok, err := f.repo.FindOne(ctx, bson.M{"owner.name": "ada", "meta.lang": "de"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.ID, got.ID)
	require.Equal(t, "de", got.Meta["lang"])
}

func TestFind_EmptyFilterReturnsCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	want := map[string]bool{}
	for i := 0; i < 4; i++ {
		doc, err := f.repo.Create(ctx, &note{Rank: i})
		require.NoError(t, err)
		want[doc.ID] = true
	}
	_, err := f.repo.DeleteOne(ctx, bson.M{"rank": 2})
	require.NoError(t, err)
	delete(want, "x3")

	res, err := f.repo.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	docs, err := res.Collect(ctx)
	require.NoError(t, err)
	got := map[string]bool{}
	for _, d := range docs {
		got[d.ID] = true
	}
	require.Equal(t, want, got)
}

func TestScenario_FindOldestActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// interleave non-matching documents and create out of order
	offsets := []int{30, 10, 50, 20, 40}
	for i, off := range offsets {
		_, err := f.repo.Create(ctx, &note{
			Base:   models.Base{CreatedAt: epoch.Add(-time.Duration(off) * time.Minute)},
			Title:  fmt.Sprintf("active-%d", off),
			Status: "active",
		})
		require.NoError(t, err)
		_, err = f.repo.Create(ctx, &note{
			Base:   models.Base{CreatedAt: epoch.Add(-time.Duration(100+i) * time.Minute)},
			Status: "archived",
		})
		require.NoError(t, err)
	}

	res, err := f.repo.Find(ctx, bson.M{"status": "active"}, FindOptions{
		Limit: 2,
		Sort:  []SortField{{Field: "createdAt", Direction: Ascending}},
	})
	require.NoError(t, err)
	docs, err := res.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "active-50", docs[0].Title)
	require.Equal(t, "active-40", docs[1].Title)
}

func TestFind_SkipAndDescending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := f.repo.Create(ctx, &note{Rank: i})
		require.NoError(t, err)
	}
	res, err := f.repo.Find(ctx, bson.M{"rank": bson.M{"$gte": 2}}, FindOptions{
		Sort: []SortField{{Field: "rank", Direction: Descending}},
		Skip: 1,
	})
	require.NoError(t, err)
	var ranks []int
	for doc, err := range res.All(ctx) {
		require.NoError(t, err)
		ranks = append(ranks, doc.Rank)
	}
	require.Equal(t, []int{4, 3, 2}, ranks)
}

func TestFind_IsLazyAndRestartable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.Create(ctx, &note{Status: "active"})
	require.NoError(t, err)

	before := f.store.calls.Load()
	res, err := f.repo.Find(ctx, bson.M{"status": "active"}, FindOptions{})
	require.NoError(t, err)
	require.Equal(t, before, f.store.calls.Load(), "Find must not touch the store")

	first, err := res.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = f.repo.Create(ctx, &note{Status: "active"})
	require.NoError(t, err)

	second, err := res.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, second, 2)
}

// ctxStore fails reads whose context is already done.
type ctxStore struct{ store.Store }

func (s ctxStore) QueryMany(ctx context.Context, c string, f bson.M, o store.QueryOptions) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.QueryMany(ctx, c, f, o)
}

func TestFind_EachIterationUsesItsOwnContext(t *testing.T) {
	repo, err := New[note](ctxStore{memory.New()}, "notes")
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), &note{Title: "a"})
	require.NoError(t, err)

	findCtx, cancel := context.WithCancel(context.Background())
	res, err := repo.Find(findCtx, nil, FindOptions{})
	require.NoError(t, err)
	cancel()

	docs, err := res.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	done, stop := context.WithCancel(context.Background())
	stop()
	_, err = res.Collect(done)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFind_EarlyBreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.repo.Create(ctx, &note{Rank: i})
		require.NoError(t, err)
	}
	res, err := f.repo.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	seen := 0
	for range res.All(ctx) {
		seen++
		break
	}
	require.Equal(t, 1, seen)
}

func TestFindOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.Create(ctx, &note{Title: "a", Status: "active"})
	require.NoError(t, err)

	got, ok, err := f.repo.FindOne(ctx, bson.M{"status": "active"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.Title)

	got, ok, err = f.repo.FindOne(ctx, bson.M{"status": "gone"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilter_IDAliasAndLogicalOperators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.repo.Create(ctx, &note{Rank: i})
		require.NoError(t, err)
	}
	res, err := f.repo.Find(ctx, bson.M{"$or": []bson.M{{"id": "x1"}, {"rank": bson.M{"$in": []int{2, 3}}}}}, FindOptions{
		Sort: []SortField{{Field: "id", Direction: Ascending}},
	})
	require.NoError(t, err)
	docs, err := res.Collect(ctx)
	require.NoError(t, err)
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	require.Equal(t, []string{"x1", "x3", "x4"}, ids)

	n, err := f.repo.Count(ctx, bson.M{"$and": bson.A{bson.M{"rank": bson.M{"$gt": 0}}, bson.M{"rank": bson.M{"$lt": 3}}}})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestValidation_RejectedBeforeStore(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(r *Repository[note, *note]) error{
		"unknown filter field": func(r *Repository[note, *note]) error {
			_, err := r.Find(ctx, bson.M{"nope": 1}, FindOptions{})
			return err
		},
		"unknown nested field": func(r *Repository[note, *note]) error {
			_, _, err := r.FindOne(ctx, bson.M{"owner.age": 1})
			return err
		},
		"unsupported operator": func(r *Repository[note, *note]) error {
			_, err := r.Count(ctx, bson.M{"rank": bson.M{"$regex": "x"}})
			return err
		},
		"top-level operator": func(r *Repository[note, *note]) error {
			_, err := r.DeleteMany(ctx, bson.M{"$where": "1"})
			return err
		},
		"id given twice": func(r *Repository[note, *note]) error {
			_, err := r.DeleteOne(ctx, bson.M{"id": "a", "_id": "b"})
			return err
		},
		"empty patch": func(r *Repository[note, *note]) error {
			_, err := r.Update(ctx, bson.M{}, bson.M{})
			return err
		},
		"unknown patch field": func(r *Repository[note, *note]) error {
			_, err := r.Update(ctx, bson.M{}, bson.M{"nope": 1})
			return err
		},
		"operator patch": func(r *Repository[note, *note]) error {
			_, err := r.Update(ctx, bson.M{}, bson.M{"$set": bson.M{"title": "x"}})
			return err
		},
		"patch type mismatch": func(r *Repository[note, *note]) error {
			_, err := r.FindOneAndUpdate(ctx, bson.M{}, bson.M{"title": 5})
			return err
		},
		"unknown sort field": func(r *Repository[note, *note]) error {
			_, err := r.Find(ctx, nil, FindOptions{Sort: []SortField{{Field: "nope", Direction: Ascending}}})
			return err
		},
		"bad sort direction": func(r *Repository[note, *note]) error {
			_, err := r.Find(ctx, nil, FindOptions{Sort: []SortField{{Field: "rank", Direction: 0}}})
			return err
		},
		"negative limit": func(r *Repository[note, *note]) error {
			_, err := r.Find(ctx, nil, FindOptions{Limit: -1})
			return err
		},
		"nil document": func(r *Repository[note, *note]) error {
			_, err := r.Create(ctx, nil)
			return err
		},
		"nil upsert document": func(r *Repository[note, *note]) error {
			_, err := r.Upsert(ctx, bson.M{}, nil)
			return err
		},
		"empty id": func(r *Repository[note, *note]) error {
			_, _, err := r.FindByID(ctx, "")
			return err
		},
	}
	for name, call := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			require.ErrorIs(t, call(f.repo), ErrValidation)
			require.Zero(t, f.store.calls.Load())
		})
	}
}

func TestFindOneAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.repo.Create(ctx, &note{Title: "a", Status: "draft"})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	got, err := f.repo.FindOneAndUpdate(ctx, bson.M{"status": "draft"}, bson.M{"status": "final"})
	require.NoError(t, err)
	require.Equal(t, doc.ID, got.ID)
	require.Equal(t, "final", got.Status)
	require.Equal(t, "a", got.Title)
	requireTime(t, epoch.Add(time.Second), got.UpdatedAt)

	stored, err := f.repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, got, stored)

	_, err = f.repo.FindOneAndUpdate(ctx, bson.M{"status": "draft"}, bson.M{"status": "final"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.repo.Create(ctx, &note{Status: "tmp"})
		require.NoError(t, err)
	}
	ok, err := f.repo.DeleteOne(ctx, bson.M{"status": "tmp"})
	require.NoError(t, err)
	require.True(t, ok)

	n, err := f.repo.DeleteMany(ctx, bson.M{"status": "tmp"})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	ok, err = f.repo.DeleteOne(ctx, bson.M{"status": "tmp"})
	require.NoError(t, err)
	require.False(t, ok)
	n, err = f.repo.DeleteMany(ctx, bson.M{"status": "tmp"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.Upsert(ctx, bson.M{"owner.name": "ada"}, &note{Title: "v1", Owner: owner{Name: "ada"}})
	require.NoError(t, err)
	require.Equal(t, "x1", created.ID)
	requireTime(t, epoch, created.CreatedAt)

	f.clock.Advance(time.Hour)
	updated, err := f.repo.Upsert(ctx, bson.M{"owner.name": "ada"}, &note{
		Base:  models.Base{ID: "other", CreatedAt: epoch.Add(-time.Hour)},
		Title: "v2",
		Owner: owner{Name: "ada"},
		Rank:  3,
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "v2", updated.Title)
	require.Equal(t, 3, updated.Rank)
	requireTime(t, created.CreatedAt, updated.CreatedAt)
	requireTime(t, epoch.Add(time.Hour), updated.UpdatedAt)

	stored, err := f.repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, updated, stored)

	n, err := f.repo.Count(ctx, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestUpsert_ReplacesOmittedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, &note{
		Title:  "v1",
		Status: "draft",
		Tags:   []string{"old"},
		Meta:   map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	updated, err := f.repo.Upsert(ctx, bson.M{"title": "v1"}, &note{Title: "v1"})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Empty(t, updated.Status)
	require.Empty(t, updated.Tags)
	require.Empty(t, updated.Meta)

	stored, err := f.repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, updated, stored)

	n, err := f.repo.Count(ctx, bson.M{"status": "draft"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUpsert_FutureCreatedAtOnlyMattersForCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := models.Base{CreatedAt: epoch.Add(time.Hour)}

	created, err := f.repo.Create(ctx, &note{Title: "a"})
	require.NoError(t, err)

	updated, err := f.repo.Upsert(ctx, bson.M{"title": "a"}, &note{Base: future, Title: "a", Rank: 2})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Rank)
	requireTime(t, created.CreatedAt, updated.CreatedAt)

	_, err = f.repo.Upsert(ctx, bson.M{"title": "missing"}, &note{Base: future, Title: "missing"})
	require.ErrorIs(t, err, ErrValidation)
	n, err := f.repo.Count(ctx, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestFilter_LargeIntegersMatchExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const big = 1 << 53

	_, err := f.repo.Create(ctx, &note{Title: "big", Rank: big + 1})
	require.NoError(t, err)

	n, err := f.repo.Count(ctx, bson.M{"rank": int64(big)})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = f.repo.Count(ctx, bson.M{"rank": int64(big + 1)})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	updated, err := f.repo.Update(ctx, bson.M{"rank": int64(big)}, bson.M{"title": "wrong"})
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestStorageFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	f := newFixture(t)
	f.store.err = boom

	_, err := f.repo.Create(ctx, &note{Title: "a"})
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, boom)

	_, _, err = f.repo.FindByID(ctx, "x1")
	require.ErrorIs(t, err, ErrStorage)

	res, err := f.repo.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	_, err = res.Collect(ctx)
	require.ErrorIs(t, err, ErrStorage)

	_, err = f.repo.Update(ctx, nil, bson.M{"rank": 1})
	require.ErrorIs(t, err, ErrStorage)
	_, err = f.repo.DeleteMany(ctx, nil)
	require.ErrorIs(t, err, ErrStorage)
	_, err = f.repo.Upsert(ctx, nil, &note{})
	require.ErrorIs(t, err, ErrStorage)

	// exactly one store call per failed operation, no retries
	require.EqualValues(t, 6, f.store.calls.Load())
}

func TestClosedStoreIsStorageError(t *testing.T) {
	s := memory.New()
	repo, err := New[note](s, "notes")
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))

	_, err = repo.Count(context.Background(), nil)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, store.ErrClosed)
}

func TestConcurrentOperations(t *testing.T) {
	repo, err := New[note](memory.New(), "notes")
	require.NoError(t, err)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := repo.Create(ctx, &note{Rank: i})
			if err != nil {
				errs <- err
				return
			}
			ids[i] = doc.ID
			if _, err := repo.Update(ctx, bson.M{"id": doc.ID}, bson.M{"status": "seen"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx, bson.M{"status": "seen"})
	require.NoError(t, err)
	require.EqualValues(t, workers, n)
	sort.Strings(ids)
	for i := 1; i < len(ids); i++ {
		require.NotEqual(t, ids[i-1], ids[i])
	}
}

func TestMetricsRecorded(t *testing.T) {
	repo, err := New[note](memory.New(), "notes_metrics")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = repo.Create(ctx, &note{})
	require.NoError(t, err)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Count(ctx, bson.M{"nope": 1})
	require.ErrorIs(t, err, ErrValidation)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RepositoryOperations.WithLabelValues("notes_metrics", "create", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RepositoryOperations.WithLabelValues("notes_metrics", "find_by_id", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RepositoryOperations.WithLabelValues("notes_metrics", "count", "invalid")))
}
