package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/store"
)

type fakeStationStore struct {
	stations []domain.Station
	parts    map[string][]domain.PartCT
	calls    int
}

func (f *fakeStationStore) GetActiveStationsForRollup(ctx context.Context, criticalOnly bool) ([]domain.Station, store.Kind, error) {
	f.calls++
	return f.stations, store.KindOK, nil
}

func (f *fakeStationStore) GetPartCTsForStation(ctx context.Context, stationID string) ([]domain.PartCT, store.Kind, error) {
	return f.parts[stationID], store.KindOK, nil
}

func TestCache_StationsRefreshesOnceWithinTTL(t *testing.T) {
	fs := &fakeStationStore{stations: []domain.Station{{StationID: "S1", LineID: "L1"}}}
	c := NewCache(fs, time.Minute)

	_, err := c.Stations(context.Background())
	require.NoError(t, err)
	_, err = c.Stations(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, fs.calls)
}

func TestCache_InvalidateForcesRefresh(t *testing.T) {
	fs := &fakeStationStore{stations: []domain.Station{{StationID: "S1", LineID: "L1"}}}
	c := NewCache(fs, time.Minute)

	_, err := c.Stations(context.Background())
	require.NoError(t, err)
	c.Invalidate(nil)
	_, err = c.Stations(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, fs.calls)
}

func TestCache_StationByID(t *testing.T) {
	fs := &fakeStationStore{stations: []domain.Station{{StationID: "S1", LineID: "L1"}, {StationID: "S2", LineID: "L1"}}}
	c := NewCache(fs, time.Minute)

	st, ok, err := c.StationByID(context.Background(), "S2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "L1", st.LineID)

	_, ok, err = c.StationByID(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_PartCTAlwaysFresh(t *testing.T) {
	fs := &fakeStationStore{
		stations: []domain.Station{{StationID: "S1"}},
		parts:    map[string][]domain.PartCT{"S1": {{PartNumber: "100", CycleTimeSec: 12.5}}},
	}
	c := NewCache(fs, time.Minute)

	parts, err := c.PartCT(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, 12.5, parts[0].CycleTimeSec)
}
