package users

import (
	"context"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/repository"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection is where users are kept.
const Collection = "users"

// UserRepository defines persistence operations for users
type UserRepository interface {
	UpsertBySub(ctx context.Context, u *models.User) (*models.User, error)
	GetBySub(ctx context.Context, sub string) (*models.User, error)
}

// StoreUserRepository implements UserRepository on the generic repository,
// keyed by the token subject.
type StoreUserRepository struct {
	docs *repository.Repository[models.User, *models.User]
}

// NewStoreUserRepository creates a repository for the users collection
func NewStoreUserRepository(handle store.Store, opts ...repository.Option) (*StoreUserRepository, error) {
	docs, err := repository.New[models.User](handle, Collection, opts...)
	if err != nil {
		return nil, err
	}
	return &StoreUserRepository{docs: docs}, nil
}

// UpsertBySub refreshes the profile fields of the user with u.Sub, creating
// the user on first sight. id and createdAt of an existing user survive.
func (r *StoreUserRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	return r.docs.Upsert(ctx, bson.M{"sub": u.Sub}, u)
}

// GetBySub returns nil, nil when no user has the subject.
func (r *StoreUserRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	u, ok, err := r.docs.FindOne(ctx, bson.M{"sub": sub})
	if err != nil || !ok {
		return nil, err
	}
	return u, nil
}
