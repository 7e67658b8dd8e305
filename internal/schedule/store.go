package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Store persists the singleton Config. Load returns nil, nil when nothing was saved yet.
type Store interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg Config) error
}

// PostgresStore keeps the config as a JSON document in a single row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a config store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (*Config, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM attendance_config WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load attendance config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode attendance config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) Save(ctx context.Context, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode attendance config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attendance_config (id, data, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, raw)
	if err != nil {
		return fmt.Errorf("save attendance config: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for dev and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, nil
	}
	cp := *s.cfg
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = &cfg
	return nil
}
