package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// Errors returned by Service.
var (
	// ErrEmptyAddress is returned for a blank forward lookup.
	ErrEmptyAddress = errors.New("address is required")

	// ErrNotFound is returned when the backend has no result for a lookup.
	ErrNotFound = errors.New("no geocoding result")
)

// Config holds configuration for the geocode service.
type Config struct {
	// Client talks to the dispatch backend.
	Client *resilience.Client

	// Cache is the in-memory cache. A new one with DefaultTTL is created if nil.
	Cache *Cache

	// Store is an optional durable cache consulted on in-memory misses.
	Store Store

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service resolves addresses through the backend, in front of the caches.
type Service struct {
	client *resilience.Client
	cache  *Cache
	store  Store
	logger zerolog.Logger
}

// NewService creates a geocode service.
func NewService(cfg Config) *Service {
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache()
	}
	return &Service{
		client: cfg.Client,
		cache:  cache,
		store:  cfg.Store,
		logger: cfg.Logger,
	}
}

// Cache returns the in-memory cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

type geocodeResponse struct {
	Success bool `json:"success"`
	Results []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Address   string  `json:"address"`
	} `json:"results"`
}

type reverseResponse struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
}

// Geocode resolves an address to its first matching location.
func (s *Service) Geocode(ctx context.Context, address string) (Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Result{}, ErrEmptyAddress
	}

	key := AddressKey(address)
	if r, ok := s.lookup(ctx, key); ok {
		return r, nil
	}

	var resp geocodeResponse
	err := s.client.GetJSON(ctx, "/geocode", url.Values{"address": {address}}, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if !resp.Success || len(resp.Results) == 0 {
		return Result{}, fmt.Errorf("geocode %q: %w", address, ErrNotFound)
	}

	first := resp.Results[0]
	r := Result{
		Coordinate: geo.Coordinate{Latitude: first.Latitude, Longitude: first.Longitude},
		Address:    first.Address,
	}
	if r.Address == "" {
		r.Address = address
	}
	if err := r.Coordinate.Validate(); err != nil {
		return Result{}, fmt.Errorf("geocode %q: %w", address, err)
	}

	s.remember(ctx, key, r)
	return r, nil
}

// Reverse resolves a coordinate to a human-readable address.
func (s *Service) Reverse(ctx context.Context, c geo.Coordinate) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	key := ReverseKey(c)
	if r, ok := s.lookup(ctx, key); ok {
		return r, nil
	}

	query := url.Values{
		"lat": {strconv.FormatFloat(c.Latitude, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(c.Longitude, 'f', -1, 64)},
	}

	var resp reverseResponse
	if err := s.client.GetJSON(ctx, "/reverse-geocode", query, &resp); err != nil {
		return Result{}, fmt.Errorf("reverse geocode %s: %w", c, err)
	}
	if !resp.Success || resp.Address == "" {
		return Result{}, fmt.Errorf("reverse geocode %s: %w", c, ErrNotFound)
	}

	r := Result{Coordinate: c, Address: resp.Address}
	s.remember(ctx, key, r)
	return r, nil
}

func (s *Service) lookup(ctx context.Context, key string) (Result, bool) {
	if r, ok := s.cache.Get(key); ok {
		s.logger.Debug().Str("key", key).Msg("geocode cache hit")
		return r, true
	}

	if s.store == nil {
		return Result{}, false
	}

	r, savedAt, err := s.store.Load(ctx, key, s.cache.TTL())
	if err != nil {
		if !errors.Is(err, ErrStoreMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("geocode store lookup failed")
		}
		return Result{}, false
	}

	s.logger.Debug().Str("key", key).Time("saved_at", savedAt).Msg("geocode store hit")
	s.cache.PutAt(key, r, savedAt)
	return r, true
}

func (s *Service) remember(ctx context.Context, key string, r Result) {
	s.cache.Put(key, r)

	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, key, r); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to persist geocode result")
	}
}
