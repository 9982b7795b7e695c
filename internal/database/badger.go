package database

import (
	"context"
	"errors"
	"net/url"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store/badgerstore"
)

// badger://memory opens an in-memory database; any other host/path is a
// directory, e.g. badger:///var/lib/datastore or badger://data/db.
var badgerDriver = Driver{
	Validate: func(cfg Config) error {
		_, _, err := badgerLocation(cfg.URI)
		return err
	},
	Connect: func(ctx context.Context, cfg Config) (store.Store, error) {
		path, inMemory, err := badgerLocation(cfg.URI)
		if err != nil {
			return nil, err
		}
		return badgerstore.Open(path, inMemory, cfg.Name)
	},
}

func badgerLocation(uri string) (path string, inMemory bool, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", false, err
	}
	if u.Host == "memory" && (u.Path == "" || u.Path == "/") {
		return "", true, nil
	}
	path = u.Host + u.Path
	if path == "" {
		return "", false, errors.New("badger uri needs a directory or \"memory\"")
	}
	return path, false, nil
}
