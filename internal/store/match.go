package store

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// comparison operators understood inside a field condition
var fieldOperators = map[string]bool{
	"$eq": true, "$ne": true,
	"$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true,
	"$exists": true,
}

// logical operators allowed at the top level of a filter
var logicalOperators = map[string]bool{"$and": true, "$or": true}

// CheckFilter reports structural problems in a filter: unknown operators,
// operators in the wrong position and operands of the wrong shape. It does
// not know which fields a collection holds.
func CheckFilter(filter bson.M) error {
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			if !logicalOperators[k] {
				return fmt.Errorf("unsupported top-level operator %q", k)
			}
			subs, err := subFilters(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			for _, sub := range subs {
				if err := CheckFilter(sub); err != nil {
					return err
				}
			}
			continue
		}
		if k == "" {
			return fmt.Errorf("empty field name")
		}
		cond, ok := operatorMap(v)
		if !ok {
			continue
		}
		for op, operand := range cond {
			if !fieldOperators[op] {
				return fmt.Errorf("field %q: unsupported operator %q", k, op)
			}
			switch op {
			case "$in", "$nin":
				if _, ok := asSlice(operand); !ok {
					return fmt.Errorf("field %q: %s needs an array", k, op)
				}
			case "$exists":
				if _, ok := operand.(bool); !ok {
					return fmt.Errorf("field %q: $exists needs a boolean", k)
				}
			}
		}
	}
	return nil
}

// FilterFields returns every field path a filter refers to, descending into
// $and/$or.
func FilterFields(filter bson.M) []string {
	var out []string
	for k, v := range filter {
		if logicalOperators[k] {
			subs, _ := subFilters(v)
			for _, sub := range subs {
				out = append(out, FilterFields(sub)...)
			}
			continue
		}
		out = append(out, k)
	}
	return out
}

// Match reports whether doc satisfies filter. An empty filter matches every
// document.
func Match(doc bson.M, filter bson.M) (bool, error) {
	for k, v := range filter {
		switch k {
		case "$and":
			subs, err := subFilters(v)
			if err != nil {
				return false, err
			}
			for _, sub := range subs {
				ok, err := Match(doc, sub)
				if err != nil || !ok {
					return false, err
				}
			}
			continue
		case "$or":
			subs, err := subFilters(v)
			if err != nil {
				return false, err
			}
			matched := false
			for _, sub := range subs {
				ok, err := Match(doc, sub)
				if err != nil {
					return false, err
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
			continue
		}
		if strings.HasPrefix(k, "$") {
			return false, fmt.Errorf("unsupported top-level operator %q", k)
		}
		val, found := Lookup(doc, k)
		ok, err := matchCondition(val, found, v)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchCondition(val any, found bool, cond any) (bool, error) {
	ops, isOps := operatorMap(cond)
	if !isOps {
		return matchEqual(val, found, cond), nil
	}
	for op, operand := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = matchEqual(val, found, operand)
		case "$ne":
			ok = !matchEqual(val, found, operand)
		case "$gt", "$gte", "$lt", "$lte":
			ok = found && matchOrder(val, op, operand)
		case "$in":
			items, valid := asSlice(operand)
			if !valid {
				return false, fmt.Errorf("$in needs an array")
			}
			for _, item := range items {
				if matchEqual(val, found, item) {
					ok = true
					break
				}
			}
		case "$nin":
			items, valid := asSlice(operand)
			if !valid {
				return false, fmt.Errorf("$nin needs an array")
			}
			ok = true
			for _, item := range items {
				if matchEqual(val, found, item) {
					ok = false
					break
				}
			}
		case "$exists":
			want, valid := operand.(bool)
			if !valid {
				return false, fmt.Errorf("$exists needs a boolean")
			}
			ok = found == want
		default:
			return false, fmt.Errorf("unsupported operator %q", op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// matchEqual follows MongoDB: a nil operand matches a missing field, and a
// scalar operand matches an array field holding that element.
func matchEqual(val any, found bool, operand any) bool {
	if !found {
		return operand == nil
	}
	if Equal(val, operand) {
		return true
	}
	if items, ok := asSlice(val); ok {
		if _, operandIsSlice := asSlice(operand); !operandIsSlice {
			for _, item := range items {
				if Equal(item, operand) {
					return true
				}
			}
		}
	}
	return false
}

func matchOrder(val any, op string, operand any) bool {
	c, ok := Compare(val, operand)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

// Lookup resolves a dotted path inside a document.
func Lookup(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case bson.M:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case bson.D:
			found := false
			for _, e := range m {
				if e.Key == part {
					cur, found = e.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetFields assigns every entry of set to doc, creating intermediate
// documents for dotted paths.
func SetFields(doc bson.M, set bson.M) {
	for k, v := range set {
		parts := strings.Split(k, ".")
		cur := doc
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(bson.M)
			if !ok {
				if m, isMap := cur[p].(map[string]any); isMap {
					next = bson.M(m)
				} else {
					next = bson.M{}
				}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
}

// Apply sorts, skips and limits an already filtered result set in place.
func Apply(docs []bson.M, opts QueryOptions) []bson.M {
	if len(opts.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, s := range opts.Sort {
				a, _ := Lookup(docs[i], s.Field)
				b, _ := Lookup(docs[j], s.Field)
				c := order(a, b)
				if c == 0 {
					continue
				}
				if s.Direction == Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			return docs[:0]
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	return docs
}

// Clone deep-copies a document through its BSON encoding, which also
// normalizes Go values to the types a real store hands back.
func Clone(doc bson.M) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal compares two values the way a document store does: numbers by value
// regardless of width, times by instant, documents and arrays element-wise.
func Equal(a, b any) bool {
	return equalCanonical(canonical(a), canonical(b))
}

func equalCanonical(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return compareNumbers(a, b) == 0
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !equalCanonical(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalCanonical(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalar values of the same kind. ok is false when the
// values are not comparable.
func Compare(a, b any) (int, bool) {
	ca, cb := canonical(a), canonical(b)
	if isNumber(ca) {
		if !isNumber(cb) {
			return 0, false
		}
		return compareNumbers(ca, cb), true
	}
	switch x := ca.(type) {
	case string:
		y, ok := cb.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case instant:
		y, ok := cb.(instant)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case bool:
		y, ok := cb.(bool)
		if !ok {
			return 0, false
		}
		return cmpOrdered(boolRank(x), boolRank(y)), true
	case objectID:
		y, ok := cb.(objectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x[:], y[:]), true
	}
	return 0, false
}

// order is a total order used for sorting: values of different kinds are
// ranked by kind first.
func order(a, b any) int {
	ra, rb := kindRank(canonical(a)), kindRank(canonical(b))
	if ra != rb {
		return cmpOrdered(ra, rb)
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return 0
}

type instant int64

// bigUint holds uint64 values above math.MaxInt64.
type bigUint uint64

type objectID [12]byte

func canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case primitive.Null:
		return nil
	case primitive.DateTime:
		return instant(x.Time().UnixNano())
	case time.Time:
		return instant(x.UnixNano())
	case primitive.Timestamp:
		return instant(time.Unix(int64(x.T), 0).UnixNano())
	case primitive.ObjectID:
		return objectID(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return canonicalUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return canonicalUint(x)
	case float32:
		return float64(x)
	case float64, string, bool:
		return x
	case bson.M:
		return canonicalMap(x)
	case map[string]any:
		return canonicalMap(x)
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = canonical(e.Value)
		}
		return m
	}
	if items, ok := asSlice(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = canonical(item)
		}
		return out
	}
	return v
}

func canonicalUint(u uint64) any {
	if u > math.MaxInt64 {
		return bigUint(u)
	}
	return int64(u)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, bigUint, float64:
		return true
	}
	return false
}

// compareNumbers orders canonical numbers exactly: integers are never
// rounded through float64. NaN sorts below every other number.
func compareNumbers(a, b any) int {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case bigUint:
			return -1
		case float64:
			return cmpIntFloat(x, y)
		}
	case bigUint:
		switch y := b.(type) {
		case int64:
			return 1
		case bigUint:
			return cmpOrdered(uint64(x), uint64(y))
		case float64:
			return cmpBigFloat(uint64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpFloat(x, y)
		default:
			return -compareNumbers(b, a)
		}
	}
	return 0
}

func cmpFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	return cmpOrdered(a, b)
}

func cmpIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f < -(1 << 63):
		return 1
	case f >= 1<<63:
		return -1
	}
	t := math.Trunc(f)
	if c := cmpOrdered(i, int64(t)); c != 0 {
		return c
	}
	// i equals the integral part of f
	return cmpOrdered(t, f)
}

func cmpBigFloat(u uint64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f < 1<<63:
		return 1
	case f >= 1<<64:
		return -1
	}
	t := math.Trunc(f)
	if c := cmpOrdered(u, uint64(t)); c != 0 {
		return c
	}
	return cmpOrdered(t, f)
}

func canonicalMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = canonical(v)
	}
	return out
}

func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, bigUint, float64:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case objectID:
		return 5
	case bool:
		return 6
	case instant:
		return 7
	}
	return 8
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cmpOrdered[T ~int | ~int64 | ~uint64 | ~float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// operatorMap returns the condition as an operator document when every key
// starts with '$'.
func operatorMap(v any) (map[string]any, bool) {
	var m map[string]any
	switch x := v.(type) {
	case bson.M:
		m = x
	case map[string]any:
		m = x
	case bson.D:
		m = x.Map()
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func subFilters(v any) ([]bson.M, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("expected an array of filters")
	}
	out := make([]bson.M, 0, len(items))
	for _, item := range items {
		switch f := item.(type) {
		case bson.M:
			out = append(out, f)
		case map[string]any:
			out = append(out, bson.M(f))
		case bson.D:
			out = append(out, f.Map())
		default:
			return nil, fmt.Errorf("expected a filter document, got %T", item)
		}
	}
	return out, nil
}

func asSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case []any:
		return x, true
	case bson.A:
		return x, true
	case []bson.M:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Array && rv.Type() == reflect.TypeOf(primitive.ObjectID{}) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
