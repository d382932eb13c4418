package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

const keyPrefix = "deepresearch:session:"

// Config carries Redis connection settings for the session store.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Store persists session state as JSON blobs in Redis with a sliding
// TTL refreshed on every save.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects and pings before returning the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr, err)
	}
	return &Store{client: client, ttl: cfg.TTL}, nil
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Load(ctx context.Context, id string) (*engine.ResearchState, error) {
	blob, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var st engine.ResearchState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return &st, nil
}

func (s *Store) Save(ctx context.Context, id string, state *engine.ResearchState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+id, blob, s.ttl).Err()
}

// Client exposes the underlying connection for shared uses such as
// scheduler locks.
func (s *Store) Client() *redis.Client { return s.client }
