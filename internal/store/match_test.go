package store

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMatch(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := bson.M{
		"_id":       "x1",
		"name":      "a.tex",
		"size":      int32(42),
		"tags":      bson.A{"draft", "thesis"},
		"createdAt": primitive.NewDateTimeFromTime(now),
		"meta":      bson.M{"owner": "sub-1"},
	}

	cases := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"empty filter", bson.M{}, true},
		{"equality", bson.M{"name": "a.tex"}, true},
		{"equality mismatch", bson.M{"name": "b.tex"}, false},
		{"number widths", bson.M{"size": 42}, true},
		{"gt", bson.M{"size": bson.M{"$gt": 40}}, true},
		{"lte false", bson.M{"size": bson.M{"$lte": 41}}, false},
		{"range", bson.M{"size": bson.M{"$gte": 42, "$lt": 43}}, true},
		{"time compare", bson.M{"createdAt": bson.M{"$lt": now.Add(time.Second)}}, true},
		{"time equal", bson.M{"createdAt": now}, true},
		{"array element", bson.M{"tags": "thesis"}, true},
		{"in", bson.M{"name": bson.M{"$in": []string{"x", "a.tex"}}}, true},
		{"nin", bson.M{"name": bson.M{"$nin": []string{"a.tex"}}}, false},
		{"ne", bson.M{"name": bson.M{"$ne": "b.tex"}}, true},
		{"exists", bson.M{"missing": bson.M{"$exists": false}}, true},
		{"exists true", bson.M{"name": bson.M{"$exists": true}}, true},
		{"nil matches missing", bson.M{"missing": nil}, true},
		{"dotted path", bson.M{"meta.owner": "sub-1"}, true},
		{"or", bson.M{"$or": bson.A{bson.M{"name": "zzz"}, bson.M{"size": 42}}}, true},
		{"and", bson.M{"$and": []bson.M{{"name": "a.tex"}, {"size": 1}}}, false},
		{"gt on string vs number", bson.M{"name": bson.M{"$gt": 1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Match(doc, tc.filter)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNumbersCompareExactly(t *testing.T) {
	const big = int64(1) << 53
	cases := []struct {
		name string
		a, b any
		want int
	}{
		{"int64 above 2^53", big + 1, big, 1},
		{"int64 equal across widths", big, uint64(big), 0},
		{"int32 vs float", int32(3), 3.0, 0},
		{"int below fraction", int64(2), 2.5, -1},
		{"negative int above fraction", int64(-2), -2.5, 1},
		{"float above int64 range", int64(math.MaxInt64), 1e19, -1},
		{"uint64 above int64", uint64(math.MaxUint64), int64(math.MaxInt64), 1},
		{"uint64 neighbours", uint64(math.MaxUint64), uint64(math.MaxUint64 - 1), 1},
		{"NaN first", math.NaN(), int64(math.MinInt64), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Compare(tc.a, tc.b)
			require.True(t, ok)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.want == 0, Equal(tc.a, tc.b))
		})
	}

	doc := bson.M{"rank": big + 1, "nested": bson.A{big + 1}}
	for filter, want := range map[string]bool{
		"eq":     false,
		"gt":     true,
		"in":     false,
		"nested": false,
	} {
		var f bson.M
		switch filter {
		case "eq":
			f = bson.M{"rank": big}
		case "gt":
			f = bson.M{"rank": bson.M{"$gt": big}}
		case "in":
			f = bson.M{"rank": bson.M{"$in": bson.A{big, big + 2}}}
		case "nested":
			f = bson.M{"nested": bson.A{big}}
		}
		got, err := Match(doc, f)
		require.NoError(t, err)
		require.Equal(t, want, got, filter)
	}

	out := Apply([]bson.M{{"_id": "a", "n": big + 1}, {"_id": "b", "n": big}}, QueryOptions{Sort: []SortField{{Field: "n", Direction: Ascending}}})
	require.Equal(t, []any{"b", "a"}, ids(out))
}

func TestCheckFilter(t *testing.T) {
	require.NoError(t, CheckFilter(bson.M{"a": 1, "b": bson.M{"$in": bson.A{1, 2}}}))
	require.NoError(t, CheckFilter(bson.M{"$or": bson.A{bson.M{"a": 1}}}))
	require.Error(t, CheckFilter(bson.M{"$where": "1"}))
	require.Error(t, CheckFilter(bson.M{"a": bson.M{"$regex": "x"}}))
	require.Error(t, CheckFilter(bson.M{"a": bson.M{"$in": 3}}))
	require.Error(t, CheckFilter(bson.M{"a": bson.M{"$exists": "yes"}}))
	require.Error(t, CheckFilter(bson.M{"$and": "nope"}))
	require.Error(t, CheckFilter(bson.M{"": 1}))
}

func TestFilterFields(t *testing.T) {
	fields := FilterFields(bson.M{"a": 1, "$or": bson.A{bson.M{"b": 2}, bson.M{"c.d": 3}}})
	require.ElementsMatch(t, []string{"a", "b", "c.d"}, fields)
}

func TestApplySortSkipLimit(t *testing.T) {
	docs := []bson.M{
		{"_id": "1", "n": 3, "g": "b"},
		{"_id": "2", "n": 1, "g": "a"},
		{"_id": "3", "n": 2, "g": "b"},
		{"_id": "4", "g": "a"},
	}
	out := Apply(docs, QueryOptions{Sort: []SortField{{Field: "n", Direction: Ascending}}})
	require.Equal(t, []any{"4", "2", "3", "1"}, ids(out))

	out = Apply(out, QueryOptions{Sort: []SortField{{Field: "g", Direction: Ascending}, {Field: "n", Direction: Descending}}})
	require.Equal(t, []any{"2", "4", "1", "3"}, ids(out))

	out = Apply(out, QueryOptions{Skip: 1, Limit: 2})
	require.Equal(t, []any{"4", "1"}, ids(out))

	require.Empty(t, Apply(out, QueryOptions{Skip: 10}))
}

func TestSetFieldsAndClone(t *testing.T) {
	doc := bson.M{"_id": "1", "meta": bson.M{"a": 1}}
	SetFields(doc, bson.M{"name": "x", "meta.b": 2, "deep.c": true})
	v, ok := Lookup(doc, "meta.b")
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = Lookup(doc, "deep.c")
	require.True(t, ok)
	require.Equal(t, true, v)

	cp, err := Clone(doc)
	require.NoError(t, err)
	require.True(t, Equal(doc, cp))
	cp["name"] = "y"
	require.Equal(t, "x", doc["name"])
}

func TestSortDocument(t *testing.T) {
	require.Nil(t, SortDocument(nil))
	d := SortDocument([]SortField{{Field: "a", Direction: Descending}, {Field: "b"}})
	require.Equal(t, bson.D{{Key: "a", Value: -1}, {Key: "b", Value: 1}}, d)
}

func ids(docs []bson.M) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["_id"]
	}
	return out
}
