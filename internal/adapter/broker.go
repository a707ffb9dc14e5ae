package adapter

import (
	"context"

	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// hierarchyStore is the subset of store.Store the hierarchy resolver calls.
type hierarchyStore interface {
	GetHierarchyForStations(ctx context.Context, stationIDs []string) ([]store.HierarchyNames, store.Kind, error)
}

// HierarchyResolver resolves a line's topic-path names from the config
// cache's station list plus the store's hierarchy read, satisfying
// broker.HierarchyResolver.
type HierarchyResolver struct {
	cache *config.Cache
	store hierarchyStore
}

// NewHierarchyResolver wraps a config cache and store.
func NewHierarchyResolver(cache *config.Cache, st hierarchyStore) *HierarchyResolver {
	return &HierarchyResolver{cache: cache, store: st}
}

// HierarchyForLine picks one representative station on the line from the
// config cache, then resolves its division/plant/area/subarea names.
func (h *HierarchyResolver) HierarchyForLine(ctx context.Context, lineID string) (store.HierarchyNames, bool) {
	stations, err := h.cache.Stations(ctx)
	if err != nil {
		return store.HierarchyNames{}, false
	}
	var repID string
	for _, st := range stations {
		if st.LineID == lineID {
			repID = st.StationID
			break
		}
	}
	if repID == "" {
		return store.HierarchyNames{}, false
	}
	rows, kind, err := h.store.GetHierarchyForStations(ctx, []string{repID})
	if kind == store.KindStoreError || err != nil || len(rows) == 0 {
		return store.HierarchyNames{}, false
	}
	return rows[0], true
}

// StaticServerNameResolver returns a configured broker name, standing in
// for the source's single global "[MagnaDataOps]BrokerName" tag read —
// OPC/live-tag text reads are out of scope (§1), so the name is sourced
// from configuration instead of a live tag.
type StaticServerNameResolver struct {
	name string
}

// NewStaticServerNameResolver wraps a configured name; an empty name
// reports ok=false so the broker client falls back to its own default.
func NewStaticServerNameResolver(name string) *StaticServerNameResolver {
	return &StaticServerNameResolver{name: name}
}

// ReadBrokerName satisfies broker.ServerNameResolver.
func (s *StaticServerNameResolver) ReadBrokerName(ctx context.Context) (string, bool) {
	if s.name == "" {
		return "", false
	}
	return s.name, true
}
