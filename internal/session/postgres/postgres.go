package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

// Store persists session state in a sessions table (see migrations/).
// Save is an upsert so freshly-created ids work without a prior insert.
type Store struct {
	db *sql.DB
}

// New opens and pings the database.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn not configured")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle, mainly for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Load(ctx context.Context, id string) (*engine.ResearchState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE id = $1`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		id, blob)
	return err
}

// DeleteIdle removes sessions untouched for longer than maxIdle and
// returns how many were reclaimed. The scheduler drives this.
func (s *Store) DeleteIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxIdle.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
