package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/api"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/archive"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/repository"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/sessions"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/users"
)

const filesCollection = "files"

// collection binds one typed repository to the untyped entry points.
type collection struct {
	register func(r gin.IRouter)
	export   func(ctx context.Context, objects archive.ObjectStore, key string) (int, error)
	restore  func(ctx context.Context, objects archive.ObjectStore, key string) (int, error)
}

func bind[T any, PT interface {
	*T
	models.Document
}](handle store.Store, name string) (collection, error) {
	repo, err := repository.New[T, PT](handle, name)
	if err != nil {
		return collection{}, err
	}
	return collection{
		register: func(r gin.IRouter) { api.RegisterCollection(r, repo) },
		export: func(ctx context.Context, objects archive.ObjectStore, key string) (int, error) {
			return archive.Export(ctx, repo, objects, key)
		},
		restore: func(ctx context.Context, objects archive.ObjectStore, key string) (int, error) {
			return archive.Import(ctx, repo, objects, key)
		},
	}, nil
}

// collections returns every collection the service knows, by name.
func collections(handle store.Store) (map[string]collection, error) {
	out := map[string]collection{}
	var err error
	if out[filesCollection], err = bind[models.File](handle, filesCollection); err != nil {
		return nil, err
	}
	if out[users.Collection], err = bind[models.User](handle, users.Collection); err != nil {
		return nil, err
	}
	if out[sessions.Collection], err = bind[models.Session](handle, sessions.Collection); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(all map[string]collection, name string) (collection, error) {
	c, ok := all[name]
	if !ok {
		names := make([]string, 0, len(all))
		for n := range all {
			names = append(names, n)
		}
		sort.Strings(names)
		return collection{}, fmt.Errorf("unknown collection %q: must be one of %v", name, names)
	}
	return c, nil
}
