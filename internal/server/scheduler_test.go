package server

import (
	"context"
	"sync"
	"testing"
	"time"

	appconfig "github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

// sweepableStore records DeleteIdle calls.
type sweepableStore struct {
	mu      sync.Mutex
	calls   int
	maxIdle time.Duration
}

func (s *sweepableStore) Load(ctx context.Context, id string) (*engine.ResearchState, error) {
	return nil, engine.ErrSessionNotFound
}
func (s *sweepableStore) Save(ctx context.Context, id string, st *engine.ResearchState) error {
	return nil
}
func (s *sweepableStore) DeleteIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.maxIdle = maxIdle
	return 2, nil
}

// plainStore has no sweep support.
type plainStore struct{}

func (plainStore) Load(ctx context.Context, id string) (*engine.ResearchState, error) {
	return nil, engine.ErrSessionNotFound
}
func (plainStore) Save(ctx context.Context, id string, st *engine.ResearchState) error { return nil }

func TestSchedulerTickSweeps(t *testing.T) {
	st := &sweepableStore{}
	sched := newScheduler(appconfig.SweepConfig{Schedule: "* * * * *", MaxIdle: 48 * time.Hour}, st)

	sched.tick()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.calls != 1 {
		t.Fatalf("DeleteIdle calls = %d, want 1", st.calls)
	}
	if st.maxIdle != 48*time.Hour {
		t.Fatalf("maxIdle = %v", st.maxIdle)
	}
}

func TestSchedulerTickSkipsPlainStores(t *testing.T) {
	sched := newScheduler(appconfig.SweepConfig{Schedule: "* * * * *"}, plainStore{})
	// stores without DeleteIdle rely on native TTL expiry
	sched.tick()
}

func TestSchedulerInvalidCronFallsBack(t *testing.T) {
	sched := newScheduler(appconfig.SweepConfig{Schedule: "not a cron"}, plainStore{})
	if sched.Expr == nil {
		t.Fatal("no fallback schedule")
	}
	next := sched.Expr.Next(time.Now())
	if next.IsZero() || time.Until(next) > 31*time.Minute {
		t.Fatalf("fallback next run = %v", next)
	}
}

func TestSchedulerCloseIdempotent(t *testing.T) {
	sched := newScheduler(appconfig.SweepConfig{Schedule: "* * * * *"}, plainStore{})
	sched.Start()
	sched.Close()
	sched.Close()
}
