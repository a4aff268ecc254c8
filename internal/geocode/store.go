package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreMiss is returned by a Store that has no fresh entry for a key.
var ErrStoreMiss = errors.New("geocode store: miss")

// Store is a durable second-level cache behind the in-memory Cache.
type Store interface {
	// Load returns the entry for key and the time it was saved if it is younger than
	// maxAge, or ErrStoreMiss.
	Load(ctx context.Context, key string, maxAge time.Duration) (Result, time.Time, error)

	// Save upserts the entry for key.
	Save(ctx context.Context, key string, value Result) error
}

// PostgresStore keeps lookups in the geocode_cache table.
//
//	CREATE TABLE geocode_cache (
//	    key        TEXT PRIMARY KEY,
//	    lat        DOUBLE PRECISION NOT NULL,
//	    lon        DOUBLE PRECISION NOT NULL,
//	    address    TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Load reads a fresh entry.
func (s *PostgresStore) Load(ctx context.Context, key string, maxAge time.Duration) (Result, time.Time, error) {
	query := `
		SELECT lat, lon, address, updated_at
		FROM geocode_cache
		WHERE key = $1 AND updated_at >= $2
	`

	var (
		r       Result
		savedAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, key, s.now().Add(-maxAge)).Scan(
		&r.Coordinate.Latitude,
		&r.Coordinate.Longitude,
		&r.Address,
		&savedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, time.Time{}, ErrStoreMiss
		}
		return Result{}, time.Time{}, fmt.Errorf("load geocode_cache key=%q: %w", key, err)
	}
	return r, savedAt, nil
}

// Save upserts an entry.
func (s *PostgresStore) Save(ctx context.Context, key string, value Result) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("save geocode_cache: empty key")
	}

	query := `
		INSERT INTO geocode_cache (key, lat, lon, address, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, key, value.Coordinate.Latitude, value.Coordinate.Longitude, value.Address, s.now())
	if err != nil {
		return fmt.Errorf("save geocode_cache key=%q: %w", key, err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithStoreClock overrides the time source of a MemoryStore.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads a fresh entry.
func (s *MemoryStore) Load(_ context.Context, key string, maxAge time.Duration) (Result, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || s.now().Sub(e.insertedAt) > maxAge {
		return Result{}, time.Time{}, ErrStoreMiss
	}
	return e.value, e.insertedAt, nil
}

// Save upserts an entry.
func (s *MemoryStore) Save(_ context.Context, key string, value Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, insertedAt: s.now()}
	return nil
}
