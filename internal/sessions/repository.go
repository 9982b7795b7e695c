package sessions

import (
	"context"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/repository"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection is where refresh sessions are kept.
const Collection = "sessions"

// DefaultTTL applies to sessions created without an expiry.
const DefaultTTL = 7 * 24 * time.Hour

// Session represents a persistent refresh session
type Session = models.Session

// Repository provides session persistence operations
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByRefresh(ctx context.Context, refresh string) (*Session, error)
	DeleteByRefresh(ctx context.Context, refresh string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// StoreRepository implements Repository on the generic repository
type StoreRepository struct {
	docs *repository.Repository[Session, *Session]
}

func NewStoreRepository(handle store.Store, opts ...repository.Option) (*StoreRepository, error) {
	docs, err := repository.New[Session](handle, Collection, opts...)
	if err != nil {
		return nil, err
	}
	return &StoreRepository{docs: docs}, nil
}

// Create stores s and copies the assigned id and timestamps back into it.
func (r *StoreRepository) Create(ctx context.Context, s *Session) error {
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().UTC().Add(DefaultTTL)
	}
	stored, err := r.docs.Create(ctx, s)
	if err != nil {
		return err
	}
	*s = *stored
	return nil
}

func (r *StoreRepository) GetByRefresh(ctx context.Context, refresh string) (*Session, error) {
	s, ok, err := r.docs.FindOne(ctx, bson.M{"refreshToken": refresh})
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

func (r *StoreRepository) DeleteByRefresh(ctx context.Context, refresh string) error {
	_, err := r.docs.DeleteMany(ctx, bson.M{"refreshToken": refresh})
	return err
}

// DeleteExpired removes every session whose expiry is before now.
func (r *StoreRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.docs.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": now}})
}
