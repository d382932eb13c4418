package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

// IdleDeleter is implemented by session stores that can purge sessions
// idle longer than a cutoff. Stores with native TTL expiry do not need
// it.
type IdleDeleter interface {
	DeleteIdle(ctx context.Context, maxIdle time.Duration) (int64, error)
}

// Scheduler runs the periodic idle-session sweep.
type Scheduler struct {
	Store   engine.SessionStore
	Rdb     *redis.Client
	MaxIdle time.Duration
	Expr    *cronexpr.Expression
	Logger  *log.Logger

	stop chan struct{}
	once sync.Once
}

func newScheduler(cfg appconfig.SweepConfig, st engine.SessionStore) *Scheduler {
	expr, err := cronexpr.Parse(cfg.Schedule)
	if err != nil {
		// invalid schedule falls back to every half hour
		expr = cronexpr.MustParse("*/30 * * * *")
	}
	return &Scheduler{
		Store:   st,
		MaxIdle: cfg.MaxIdle,
		Expr:    expr,
		Logger:  log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
		stop:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go func() {
		for {
			next := s.Expr.Next(time.Now())
			if next.IsZero() {
				return
			}
			select {
			case <-s.stop:
				return
			case <-time.After(time.Until(next)):
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleter, ok := s.Store.(IdleDeleter)
	if !ok {
		return
	}

	// distributed lock so only one replica sweeps
	if s.Rdb != nil {
		lockKey := "deepresearch:sweep:lock"
		ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
		if err != nil || !ok {
			return
		}
		defer s.Rdb.Del(ctx, lockKey)
	}

	n, err := deleter.DeleteIdle(ctx, s.MaxIdle)
	if err != nil {
		s.Logger.Printf("sweep failed: %v", err)
		return
	}
	if n > 0 {
		s.Logger.Printf("purged %d idle sessions", n)
	}
}
