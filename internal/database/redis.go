package database

import (
	"context"
	"fmt"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store/redisstore"
	"github.com/redis/go-redis/v9"
)

var redisDriver = Driver{
	Validate: func(cfg Config) error {
		_, err := redis.ParseURL(cfg.URI)
		return err
	},
	Connect: func(ctx context.Context, cfg Config) (store.Store, error) {
		client, err := ConnectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, cfg.Name+":"), nil
	},
}

// ConnectRedis opens a pooled client and checks it with PING.
func ConnectRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.ConnectTimeout
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
