package users

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
)

// ErrNoSubject is returned when token claims carry no "sub".
var ErrNoSubject = errors.New("claims carry no subject")

// Service records API callers from their verified token claims.
type Service struct {
	repo UserRepository
	now  func() time.Time
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r, now: time.Now}
}

// UpsertFromClaims creates or refreshes the user named by claims["sub"] and
// stamps LastSeenAt.
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]any) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrNoSubject
	}
	u := &models.User{Sub: sub, LastSeenAt: s.now().UTC().Truncate(time.Millisecond)}
	u.Issuer, _ = claims["iss"].(string)
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	return s.repo.UpsertBySub(ctx, u)
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}
