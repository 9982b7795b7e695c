package database

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
)

// InitializeWithRetry calls m.Initialize up to attempts times, backing off
// exponentially from initial between tries. Only ErrConnection is retried;
// configuration errors return at once.
func InitializeWithRetry(ctx context.Context, m *Module, cfg Config, attempts int, initial time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := m.Initialize(ctx, cfg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConnection) {
			return backoff.Permanent(err)
		}
		logger.Warnf("attempt %d/%d: %v", attempt, attempts, err)
		return err
	}, b)
}
