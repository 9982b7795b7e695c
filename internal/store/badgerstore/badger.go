// Package badgerstore is an embedded, persistent document store on top of
// BadgerDB. Documents are BSON-encoded under keys ordered by an insertion
// sequence; a secondary key per id enforces uniqueness.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	sequenceBandwidth = 100
	// write transactions that lose a conflict check are replayed this many
	// times before the conflict is surfaced
	maxConflictRetries = 10
)

// badgerLogger routes badger's internal logging to the service logger.
type badgerLogger struct{}

var _ badger.Logger = badgerLogger{}

func (badgerLogger) Errorf(msg string, items ...any)   { logger.Errorf("badger: "+msg, items...) }
func (badgerLogger) Warningf(msg string, items ...any) { logger.Warnf("badger: "+msg, items...) }
func (badgerLogger) Infof(msg string, items ...any)    { logger.Debugf("badger: "+msg, items...) }
func (badgerLogger) Debugf(msg string, items ...any)   { logger.Debugf("badger: "+msg, items...) }

// Store implements store.Store on a BadgerDB instance.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	prefix []byte
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) a database directory, or an in-memory
// database when inMemory is set. Keys are namespaced by prefix.
func Open(path string, inMemory bool, prefix string) (*Store, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = badgerLogger{}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	p := []byte(prefix + "\x00")
	seq, err := db.GetSequence(append(append([]byte{}, p...), "seq"...), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &Store{db: db, seq: seq, prefix: p}, nil
}

func (s *Store) docPrefix(col string) []byte {
	k := append([]byte{}, s.prefix...)
	k = append(k, 'd', 0)
	k = append(k, col...)
	return append(k, 0)
}

func (s *Store) docKey(col string, n uint64) []byte {
	return binary.BigEndian.AppendUint64(s.docPrefix(col), n)
}

func (s *Store) idKey(col string, id any) []byte {
	k := append([]byte{}, s.prefix...)
	k = append(k, 'i', 0)
	k = append(k, col...)
	k = append(k, 0)
	return append(k, fmt.Sprintf("%T:%v", id, id)...)
}

// update runs fn in a read-write transaction, replaying it when badger
// reports a conflict with a concurrent transaction.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) Insert(ctx context.Context, col string, doc bson.M) (any, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	id, ok := doc[store.IDField]
	if !ok || id == nil {
		return nil, fmt.Errorf("badger insert %s: document has no %s", col, store.IDField)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("badger insert %s: %w", col, err)
	}
	n, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("badger insert %s: %w", col, err)
	}
	ik := s.idKey(col, id)
	dk := s.docKey(col, n)
	err = s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(ik); err == nil {
			return store.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(ik, dk); err != nil {
			return err
		}
		return txn.Set(dk, raw)
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s %v", store.ErrDuplicateKey, col, id)
	}
	if err != nil {
		return nil, fmt.Errorf("badger insert %s: %w", col, err)
	}
	return id, nil
}

type entry struct {
	key []byte
	doc bson.M
}

// scan collects the documents of col matching filter in insertion order.
func scan(txn *badger.Txn, prefix []byte, filter bson.M) ([]entry, error) {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
	defer it.Close()
	var out []entry
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var doc bson.M
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %x: %w", item.Key(), err)
		}
		ok, err := store.Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry{key: item.KeyCopy(nil), doc: doc})
		}
	}
	return out, nil
}

func (s *Store) view(col string, filter bson.M) ([]entry, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	var out []entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scan(txn, s.docPrefix(col), filter)
		return err
	})
	return out, err
}

func (s *Store) QueryMany(ctx context.Context, col string, filter bson.M, opts store.QueryOptions) ([]bson.M, error) {
	entries, err := s.view(col, filter)
	if err != nil {
		return nil, fmt.Errorf("badger query %s: %w", col, err)
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

func (s *Store) UpdateMany(ctx context.Context, col string, filter bson.M, set bson.M) (int64, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	var n int64
	err := s.update(func(txn *badger.Txn) error {
		entries, err := scan(txn, s.docPrefix(col), filter)
		if err != nil {
			return err
		}
		for _, e := range entries {
			store.SetFields(e.doc, set)
			raw, err := bson.Marshal(e.doc)
			if err != nil {
				return err
			}
			if err := txn.Set(e.key, raw); err != nil {
				return err
			}
		}
		n = int64(len(entries))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger update %s: %w", col, err)
	}
	return n, nil
}

func (s *Store) DeleteMany(ctx context.Context, col string, filter bson.M) (int64, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	var n int64
	err := s.update(func(txn *badger.Txn) error {
		entries, err := scan(txn, s.docPrefix(col), filter)
		if err != nil {
			return err
		}
		for _, e := range entries {
			ik := s.idKey(col, e.doc[store.IDField])
			// only drop the id key while it still points at this document
			if item, err := txn.Get(ik); err == nil {
				if v, err := item.ValueCopy(nil); err == nil && bytes.Equal(v, e.key) {
					if err := txn.Delete(ik); err != nil {
						return err
					}
				}
			}
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		n = int64(len(entries))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger delete %s: %w", col, err)
	}
	return n, nil
}

func (s *Store) Count(ctx context.Context, col string, filter bson.M) (int64, error) {
	entries, err := s.view(col, filter)
	if err != nil {
		return 0, fmt.Errorf("badger count %s: %w", col, err)
	}
	return int64(len(entries)), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return store.ErrClosed
	}
	return nil
}

// Close releases the sequence lease and closes the database. Closing twice
// is a no-op.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		logger.Warnf("badger sequence release: %v", err)
	}
	return s.db.Close()
}
