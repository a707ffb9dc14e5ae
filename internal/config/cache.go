package config

import (
	"context"
	"sync"
	"time"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// stationStore is the subset of store.Store the cache needs, kept as an
// interface so tests can supply a fake without a live Postgres connection.
type stationStore interface {
	GetActiveStationsForRollup(ctx context.Context, criticalOnly bool) ([]domain.Station, store.Kind, error)
	GetPartCTsForStation(ctx context.Context, stationID string) ([]domain.PartCT, store.Kind, error)
}

// Cache is the §4.2 Config Cache: a TTL-refreshed view of station
// definitions, with on-demand (uncached, always-fresh) part-CT lookups.
type Cache struct {
	store stationStore
	ttl   time.Duration

	mu       sync.RWMutex
	stations []domain.Station
	byID     map[string]domain.Station
	loadedAt time.Time
}

// NewCache builds a Config Cache over the given store with the given TTL.
func NewCache(s stationStore, ttl time.Duration) *Cache {
	return &Cache{store: s, ttl: ttl, byID: map[string]domain.Station{}}
}

// Stations returns the cached station list, refreshing it first if the
// TTL has elapsed.
func (c *Cache) Stations(ctx context.Context) ([]domain.Station, error) {
	c.mu.RLock()
	fresh := time.Since(c.loadedAt) < c.ttl && c.loadedAt.After(time.Time{})
	cached := c.stations
	c.mu.RUnlock()
	if fresh {
		return cached, nil
	}
	return c.refresh(ctx)
}

// StationByID returns a single station from the cache, refreshing if stale.
func (c *Cache) StationByID(ctx context.Context, stationID string) (domain.Station, bool, error) {
	if _, err := c.Stations(ctx); err != nil {
		return domain.Station{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.byID[stationID]
	return st, ok, nil
}

func (c *Cache) refresh(ctx context.Context) ([]domain.Station, error) {
	stations, _, err := c.store.GetActiveStationsForRollup(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Station, len(stations))
	for _, st := range stations {
		byID[st.StationID] = st
	}
	c.mu.Lock()
	c.stations = stations
	c.byID = byID
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return stations, nil
}

// PartCT returns the part-CT map for a station. Unlike Stations, this is
// always fetched fresh — part CT changes are rare but must take effect
// immediately once the bill-of-materials changes for a running job.
func (c *Cache) PartCT(ctx context.Context, stationID string) ([]domain.PartCT, error) {
	parts, _, err := c.store.GetPartCTsForStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// Invalidate forces the next Stations/StationByID call to refresh. A nil
// stationID invalidates the whole cache; a non-nil one is accepted for
// API symmetry with the source's per-station invalidate but has the same
// effect since the cache only ever refreshes as a whole batch.
func (c *Cache) Invalidate(stationID *string) {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}
