package repository

import (
	"fmt"
	"strings"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// alias maps the public "id" key onto the stored primary key, unless the
// document type persists a field literally named "id".
func (r *Repository[T, PT]) alias(key string) string {
	if key == "id" && !r.fields.has("id") {
		return store.IDField
	}
	return key
}

// prepareFilter normalizes filter and checks it against the document type.
// A nil filter matches everything.
func (r *Repository[T, PT]) prepareFilter(filter bson.M) (bson.M, error) {
	f, err := r.normalize(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrValidation, err)
	}
	if err := store.CheckFilter(f); err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrValidation, err)
	}
	for _, path := range store.FilterFields(f) {
		if !r.fields.has(path) {
			return nil, fmt.Errorf("%w: filter: unknown field %q in %s", ErrValidation, path, r.collection)
		}
	}
	return f, nil
}

func (r *Repository[T, PT]) normalize(filter bson.M) (bson.M, error) {
	out := make(bson.M, len(filter))
	for k, v := range filter {
		if k == "$and" || k == "$or" {
			subs, err := r.normalizeList(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = subs
			continue
		}
		key := r.alias(k)
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("field %q given twice", key)
		}
		out[key] = v
	}
	return out, nil
}

func (r *Repository[T, PT]) normalizeList(v any) (bson.A, error) {
	var items []any
	switch x := v.(type) {
	case bson.A:
		items = x
	case []any:
		items = x
	case []bson.M:
		for _, m := range x {
			items = append(items, m)
		}
	case []map[string]any:
		for _, m := range x {
			items = append(items, m)
		}
	default:
		return nil, fmt.Errorf("expected an array of filters, got %T", v)
	}
	out := make(bson.A, 0, len(items))
	for _, item := range items {
		var sub bson.M
		switch f := item.(type) {
		case bson.M:
			sub = f
		case map[string]any:
			sub = f
		case bson.D:
			sub = f.Map()
		default:
			return nil, fmt.Errorf("expected a filter document, got %T", item)
		}
		n, err := r.normalize(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// preparePatch turns a caller patch into the $set document sent to the
// store: identity fields are dropped and updatedAt is stamped.
func (r *Repository[T, PT]) preparePatch(patch bson.M) (bson.M, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: patch: no fields", ErrValidation)
	}
	set := make(bson.M, len(patch)+1)
	top := bson.M{}
	for k, v := range patch {
		if strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("%w: patch: operator %q not allowed, patches assign fields", ErrValidation, k)
		}
		key := r.alias(k)
		if !r.fields.has(key) {
			return nil, fmt.Errorf("%w: patch: unknown field %q in %s", ErrValidation, key, r.collection)
		}
		switch key {
		case store.IDField, models.FieldCreatedAt, models.FieldUpdatedAt:
			continue
		}
		set[key] = v
		if !strings.Contains(key, ".") {
			top[key] = v
		}
	}
	if err := r.checkValues(set, top); err != nil {
		return nil, err
	}
	set[models.FieldUpdatedAt] = r.timestamp()
	return set, nil
}

// checkValues rejects patch values that cannot be encoded, or that would not
// decode back into the document type.
func (r *Repository[T, PT]) checkValues(set, top bson.M) error {
	if _, err := bson.Marshal(set); err != nil {
		return fmt.Errorf("%w: patch: %w", ErrValidation, err)
	}
	data, err := bson.Marshal(top)
	if err != nil {
		return fmt.Errorf("%w: patch: %w", ErrValidation, err)
	}
	var probe T
	if err := bson.Unmarshal(data, PT(&probe)); err != nil {
		return fmt.Errorf("%w: patch: %w", ErrValidation, err)
	}
	return nil
}

func (r *Repository[T, PT]) queryOptions(opts FindOptions) (store.QueryOptions, error) {
	if opts.Limit < 0 || opts.Skip < 0 {
		return store.QueryOptions{}, fmt.Errorf("%w: limit and skip must not be negative", ErrValidation)
	}
	qo := store.QueryOptions{Limit: opts.Limit, Skip: opts.Skip}
	for _, s := range opts.Sort {
		field := r.alias(s.Field)
		if !r.fields.has(field) {
			return store.QueryOptions{}, fmt.Errorf("%w: sort: unknown field %q in %s", ErrValidation, s.Field, r.collection)
		}
		if s.Direction != Ascending && s.Direction != Descending {
			return store.QueryOptions{}, fmt.Errorf("%w: sort: direction of %q must be 1 or -1", ErrValidation, s.Field)
		}
		qo.Sort = append(qo.Sort, store.SortField{Field: field, Direction: s.Direction})
	}
	return qo, nil
}
