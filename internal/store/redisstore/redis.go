// Package redisstore keeps collections in Redis. Each collection is a hash
// of BSON-encoded documents keyed by id plus a sorted set recording
// insertion order. Filtering, sorting and paging run client side.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// KEYS: hash, order zset, sequence. ARGV: member, encoded document.
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return 1
`)

// Replaces a document only while it is still the version that was read.
// Returns 0 when it was deleted and -1 when another writer changed it.
// KEYS: hash. ARGV: member, new encoding, encoding that was read.
var replaceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
	return 0
end
if cur ~= ARGV[3] then
	return -1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// maxUpdateAttempts bounds the retries of one document update under
// contention.
const maxUpdateAttempts = 32

// Store implements store.Store on top of a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// New wraps client. Keys are namespaced by prefix; an empty prefix becomes
// "datastore:".
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "datastore:"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) hashKey(col string) string  { return s.prefix + "col:" + col }
func (s *Store) orderKey(col string) string { return s.prefix + "order:" + col }
func (s *Store) seqKey(col string) string   { return s.prefix + "seq:" + col }

func member(id any) string {
	return fmt.Sprintf("%T:%v", id, id)
}

func (s *Store) Insert(ctx context.Context, col string, doc bson.M) (any, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	id, ok := doc[store.IDField]
	if !ok || id == nil {
		return nil, fmt.Errorf("redis insert %s: document has no %s", col, store.IDField)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("redis insert %s: %w", col, err)
	}
	keys := []string{s.hashKey(col), s.orderKey(col), s.seqKey(col)}
	inserted, err := insertScript.Run(ctx, s.client, keys, member(id), raw).Int()
	if err != nil {
		return nil, fmt.Errorf("redis insert %s: %w", col, err)
	}
	if inserted == 0 {
		return nil, fmt.Errorf("%w: %s %v", store.ErrDuplicateKey, col, id)
	}
	return id, nil
}

type entry struct {
	member string
	raw    string
	doc    bson.M
}

// scan loads the collection in insertion order and keeps the documents
// matching filter.
func (s *Store) scan(ctx context.Context, col string, filter bson.M) ([]entry, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	members, err := s.client.ZRange(ctx, s.orderKey(col), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", col, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.hashKey(col), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", col, err)
	}
	out := make([]entry, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// removed between ZRANGE and HMGET
			continue
		}
		e, match, err := decodeEntry(col, members[i], str, filter)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, e)
		}
	}
	return out, nil
}

func decodeEntry(col, member, raw string, filter bson.M) (entry, bool, error) {
	var doc bson.M
	if err := bson.Unmarshal([]byte(raw), &doc); err != nil {
		return entry{}, false, fmt.Errorf("redis decode %s/%s: %w", col, member, err)
	}
	match, err := store.Match(doc, filter)
	if err != nil {
		return entry{}, false, err
	}
	return entry{member: member, raw: raw, doc: doc}, match, nil
}

func (s *Store) QueryMany(ctx context.Context, col string, filter bson.M, opts store.QueryOptions) ([]bson.M, error) {
	entries, err := s.scan(ctx, col, filter)
	if err != nil {
		return nil, err
	}
	docs := make([]bson.M, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	return store.Apply(docs, opts), nil
}

func (s *Store) QueryOne(ctx context.Context, col string, filter bson.M) (bson.M, error) {
	docs, err := s.QueryMany(ctx, col, filter, store.QueryOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// UpdateMany applies set to each matching document atomically: a document
// changed by another writer since it was read is re-read, re-matched and
// patched again, so concurrent updates of different fields all survive.
func (s *Store) UpdateMany(ctx context.Context, col string, filter bson.M, set bson.M) (int64, error) {
	entries, err := s.scan(ctx, col, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		applied, err := s.updateOne(ctx, col, e, filter, set)
		if err != nil {
			return n, err
		}
		if applied {
			n++
		}
	}
	return n, nil
}

func (s *Store) updateOne(ctx context.Context, col string, e entry, filter, set bson.M) (bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		store.SetFields(e.doc, set)
		raw, err := bson.Marshal(e.doc)
		if err != nil {
			return false, fmt.Errorf("redis update %s: %w", col, err)
		}
		res, err := replaceScript.Run(ctx, s.client, []string{s.hashKey(col)}, e.member, raw, e.raw).Int()
		if err != nil {
			return false, fmt.Errorf("redis update %s: %w", col, err)
		}
		if res >= 0 {
			return res == 1, nil
		}
		cur, err := s.client.HGet(ctx, s.hashKey(col), e.member).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("redis update %s: %w", col, err)
		}
		var match bool
		if e, match, err = decodeEntry(col, e.member, cur, filter); err != nil || !match {
			return false, err
		}
	}
	return false, fmt.Errorf("redis update %s/%s: too much contention", col, e.member)
}

func (s *Store) DeleteMany(ctx context.Context, col string, filter bson.M) (int64, error) {
	entries, err := s.scan(ctx, col, filter)
	if err != nil || len(entries) == 0 {
		return 0, err
	}
	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = e.member
	}
	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.HDel(ctx, s.hashKey(col), members...)
		p.ZRem(ctx, s.orderKey(col), toAny(members)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete %s: %w", col, err)
	}
	return del.Val(), nil
}

func (s *Store) Count(ctx context.Context, col string, filter bson.M) (int64, error) {
	entries, err := s.scan(ctx, col, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connection pool. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, v := range ss {
		out[i] = v
	}
	return out
}
