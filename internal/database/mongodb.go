package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store/mongostore"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var mongoDriver = Driver{
	Validate: func(cfg Config) error {
		return mongoOptions(cfg.URI, cfg.PoolSize, cfg.ConnectTimeout).Validate()
	},
	Connect: func(ctx context.Context, cfg Config) (store.Store, error) {
		client, err := ConnectMongo(ctx, cfg.URI, cfg.PoolSize, cfg.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return mongostore.New(client, cfg.Name), nil
	},
}

func mongoOptions(uri string, poolSize int, timeout time.Duration) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(uint64(poolSize)).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
}

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, poolSize int, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, mongoOptions(uri, poolSize, timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}
