package session

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
	"github.com/mohammad-safakhou/deepresearch/internal/session/inmemory"
	"github.com/mohammad-safakhou/deepresearch/internal/session/postgres"
	sessionredis "github.com/mohammad-safakhou/deepresearch/internal/session/redis"
)

// StoreType selects a session store backend.
type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
	PostgresStore StoreType = "postgres"
)

// Options carries backend connection settings.
type Options struct {
	TTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string
}

// NewStore builds the configured session store.
func NewStore(ctx context.Context, storeType StoreType, opts Options) (engine.SessionStore, error) {
	switch storeType {
	case InMemoryStore, "":
		return inmemory.New(), nil
	case RedisStore:
		return sessionredis.New(ctx, sessionredis.Config{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			TTL:      opts.TTL,
		})
	case PostgresStore:
		return postgres.New(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
