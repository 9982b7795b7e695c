// Package repository implements a generic document repository on top of a
// store.Store. It owns the identity and timestamp fields of every document
// and validates filters and patches against the document type before any
// store call is made.
package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/metrics"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// SortField and its directions are re-exported for callers of Find.
type SortField = store.SortField

const (
	Ascending  = store.Ascending
	Descending = store.Descending
)

// FindOptions shapes a Find. Zero Limit means no limit.
type FindOptions struct {
	Sort  []SortField
	Limit int64
	Skip  int64
}

type config struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Repository.
type Option func(*config)

// WithClock replaces time.Now as the source of document timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithIDGenerator replaces the default UUID generator for new document ids.
func WithIDGenerator(gen func() string) Option {
	return func(c *config) { c.newID = gen }
}

// Repository stores documents of type T in one collection. PT is *T and
// carries the models.Document accessors. A Repository holds a non-owning
// reference to the store and is safe for concurrent use.
type Repository[T any, PT interface {
	*T
	models.Document
}] struct {
	store      store.Store
	collection string
	fields     *fieldSet
	now        func() time.Time
	newID      func() string
}

// New returns a repository for collection backed by handle.
func New[T any, PT interface {
	*T
	models.Document
}](handle store.Store, collection string, opts ...Option) (*Repository[T, PT], error) {
	if handle == nil {
		return nil, errors.New("repository: nil store handle")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("repository: collection name is required")
	}
	cfg := config{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository[T, PT]{
		store:      handle,
		collection: collection,
		fields:     fieldsOf(reflect.TypeOf((*T)(nil)).Elem()),
		now:        cfg.now,
		newID:      cfg.newID,
	}, nil
}

// Collection returns the collection name.
func (r *Repository[T, PT]) Collection() string { return r.collection }

// timestamp is the operation time at the precision every backend persists.
func (r *Repository[T, PT]) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// Create stores doc as a new document. The id is generated when empty and a
// supplied createdAt is kept; updatedAt is always the operation time. The
// caller's value is not modified; the stored document is returned.
func (r *Repository[T, PT]) Create(ctx context.Context, doc PT) (_ PT, err error) {
	defer r.track("create", time.Now(), &err)
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrValidation)
	}
	raw, err := r.prepareNew(doc, r.timestamp())
	if err != nil {
		return nil, err
	}
	return r.insert(ctx, raw)
}

func (r *Repository[T, PT]) prepareNew(doc PT, now time.Time) (bson.M, error) {
	var out T = *doc
	p := PT(&out)
	if p.GetID() == "" {
		p.SetID(r.newID())
	}
	created := p.GetCreatedAt()
	if created.IsZero() {
		created = now
	} else {
		created = created.UTC().Truncate(time.Millisecond)
		if created.After(now) {
			return nil, fmt.Errorf("%w: createdAt %s is after the operation time", ErrValidation, created.Format(time.RFC3339Nano))
		}
	}
	p.SetCreatedAt(created)
	p.SetUpdatedAt(now)
	return encode(p)
}

func (r *Repository[T, PT]) insert(ctx context.Context, raw bson.M) (PT, error) {
	if _, err := r.store.Insert(ctx, r.collection, raw); err != nil {
		return nil, r.storeError("insert", err)
	}
	return r.decode(raw)
}

// FindByID looks a document up by id. Absence is reported through the bool,
// not as an error.
func (r *Repository[T, PT]) FindByID(ctx context.Context, id string) (_ PT, _ bool, err error) {
	defer r.track("find_by_id", time.Now(), &err)
	if id == "" {
		return nil, false, fmt.Errorf("%w: empty id", ErrValidation)
	}
	return r.queryOne(ctx, bson.M{store.IDField: id})
}

// Get is the strict form of FindByID: absence is ErrNotFound.
func (r *Repository[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	doc, ok, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, r.collection, id)
	}
	return doc, nil
}

// Find validates filter and opts and returns the matching documents as a
// lazy sequence. Nothing is read until the Results are ranged over.
func (r *Repository[T, PT]) Find(ctx context.Context, filter bson.M, opts FindOptions) (_ *Results[T, PT], err error) {
	defer r.track("find", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return nil, err
	}
	qo, err := r.queryOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Results[T, PT]{repo: r, filter: f, opts: qo}, nil
}

// FindOne returns the first document matching filter.
func (r *Repository[T, PT]) FindOne(ctx context.Context, filter bson.M) (_ PT, _ bool, err error) {
	defer r.track("find_one", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return nil, false, err
	}
	return r.queryOne(ctx, f)
}

func (r *Repository[T, PT]) queryOne(ctx context.Context, filter bson.M) (PT, bool, error) {
	raw, err := r.store.QueryOne(ctx, r.collection, filter)
	if err != nil {
		return nil, false, r.storeError("query_one", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	doc, err := r.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Count returns the number of documents matching filter.
func (r *Repository[T, PT]) Count(ctx context.Context, filter bson.M) (_ int64, err error) {
	defer r.track("count", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := r.store.Count(ctx, r.collection, f)
	if err != nil {
		return 0, r.storeError("count", err)
	}
	return n, nil
}

// Update applies patch to every document matching filter and returns the
// number of documents matched. id and createdAt in patch are ignored and
// updatedAt is set to the operation time.
func (r *Repository[T, PT]) Update(ctx context.Context, filter, patch bson.M) (_ int64, err error) {
	defer r.track("update", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return 0, err
	}
	set, err := r.preparePatch(patch)
	if err != nil {
		return 0, err
	}
	n, err := r.store.UpdateMany(ctx, r.collection, f, set)
	if err != nil {
		return 0, r.storeError("update", err)
	}
	return n, nil
}

// FindOneAndUpdate applies patch to the first document matching filter and
// returns it as stored after the update. No match is ErrNotFound.
func (r *Repository[T, PT]) FindOneAndUpdate(ctx context.Context, filter, patch bson.M) (_ PT, err error) {
	defer r.track("find_one_and_update", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return nil, err
	}
	set, err := r.preparePatch(patch)
	if err != nil {
		return nil, err
	}
	current, err := r.store.QueryOne(ctx, r.collection, f)
	if err != nil {
		return nil, r.storeError("query_one", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s matching filter", ErrNotFound, r.collection)
	}
	byID := bson.M{store.IDField: current[store.IDField]}
	n, err := r.store.UpdateMany(ctx, r.collection, byID, set)
	if err != nil {
		return nil, r.storeError("update", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s/%v removed concurrently", ErrNotFound, r.collection, current[store.IDField])
	}
	store.SetFields(current, set)
	return r.decode(current)
}

// DeleteOne removes the first document matching filter and reports whether
// one was removed.
func (r *Repository[T, PT]) DeleteOne(ctx context.Context, filter bson.M) (_ bool, err error) {
	defer r.track("delete_one", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return false, err
	}
	current, err := r.store.QueryOne(ctx, r.collection, f)
	if err != nil {
		return false, r.storeError("query_one", err)
	}
	if current == nil {
		return false, nil
	}
	n, err := r.store.DeleteMany(ctx, r.collection, bson.M{store.IDField: current[store.IDField]})
	if err != nil {
		return false, r.storeError("delete", err)
	}
	return n > 0, nil
}

// DeleteMany removes every document matching filter. An empty filter empties
// the collection.
func (r *Repository[T, PT]) DeleteMany(ctx context.Context, filter bson.M) (_ int64, err error) {
	defer r.track("delete_many", time.Now(), &err)
	f, err := r.prepareFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := r.store.DeleteMany(ctx, r.collection, f)
	if err != nil {
		return 0, r.storeError("delete", err)
	}
	return n, nil
}

// Upsert replaces the first document matching filter with doc, keeping its
// id and createdAt. Persisted fields that doc leaves out (omitempty) are set
// to null. When nothing matches, doc is created. The resulting stored
// document is returned.
func (r *Repository[T, PT]) Upsert(ctx context.Context, filter bson.M, doc PT) (_ PT, err error) {
	defer r.track("upsert", time.Now(), &err)
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrValidation)
	}
	f, err := r.prepareFilter(filter)
	if err != nil {
		return nil, err
	}
	now := r.timestamp()
	set, err := r.replacement(doc, now)
	if err != nil {
		return nil, err
	}
	// createdAt only matters when doc is created
	raw, createErr := r.prepareNew(doc, now)

	current, err := r.store.QueryOne(ctx, r.collection, f)
	if err != nil {
		return nil, r.storeError("query_one", err)
	}
	if current != nil {
		n, err := r.store.UpdateMany(ctx, r.collection, bson.M{store.IDField: current[store.IDField]}, set)
		if err != nil {
			return nil, r.storeError("update", err)
		}
		if n > 0 {
			store.SetFields(current, set)
			return r.decode(current)
		}
		// removed between the lookup and the write; fall back to creating
	}
	if createErr != nil {
		return nil, createErr
	}
	return r.insert(ctx, raw)
}

// replacement is the $set that makes a stored document equal to doc apart
// from _id and createdAt.
func (r *Repository[T, PT]) replacement(doc PT, now time.Time) (bson.M, error) {
	var out T = *doc
	p := PT(&out)
	p.SetUpdatedAt(now)
	set, err := encode(p)
	if err != nil {
		return nil, err
	}
	delete(set, store.IDField)
	delete(set, models.FieldCreatedAt)
	for name := range r.fields.fields {
		if name == store.IDField || name == models.FieldCreatedAt {
			continue
		}
		if _, ok := set[name]; !ok {
			set[name] = nil
		}
	}
	return set, nil
}

// storeError classifies a store failure and logs it at debug.
func (r *Repository[T, PT]) storeError(op string, err error) error {
	logger.Debugf("repository %s: %s failed: %v", r.collection, op, err)
	if errors.Is(err, store.ErrDuplicateKey) {
		return fmt.Errorf("%w: %s: %w", ErrDuplicateKey, r.collection, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, r.collection, op, err)
}

func (r *Repository[T, PT]) track(op string, start time.Time, err *error) {
	result := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrValidation):
		result = "invalid"
	case errors.Is(*err, ErrNotFound):
		result = "not_found"
	case errors.Is(*err, ErrDuplicateKey):
		result = "duplicate"
	default:
		result = "error"
	}
	metrics.ObserveOperation(r.collection, op, result, time.Since(start))
}

func encode(doc any) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %w", ErrValidation, err)
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: encode document: %w", ErrValidation, err)
	}
	return m, nil
}

func (r *Repository[T, PT]) decode(raw bson.M) (PT, error) {
	data, err := bson.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode document: %w", ErrStorage, r.collection, err)
	}
	var out T
	if err := bson.Unmarshal(data, PT(&out)); err != nil {
		return nil, fmt.Errorf("%w: %s: decode document: %w", ErrStorage, r.collection, err)
	}
	return PT(&out), nil
}
