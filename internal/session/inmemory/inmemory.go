package inmemory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

// Store keeps session state as JSON blobs in process memory. The JSON
// round trip on load/save gives callers isolated copies, matching the
// exclusive-ownership contract of the durable backends.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func New() *Store {
	return &Store{sessions: make(map[string][]byte)}
}

func (s *Store) Load(ctx context.Context, id string) (*engine.ResearchState, error) {
	s.mu.RLock()
	blob, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	var st engine.ResearchState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) Save(ctx context.Context, id string, state *engine.ResearchState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[id] = blob
	s.mu.Unlock()
	return nil
}

// Len reports how many sessions are held, for tests and diagnostics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
