package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/store"
)

type fakeSeries struct {
	samples map[string][]historian.Sample
}

func (f *fakeSeries) QueryHistory(ctx context.Context, path string, start, end time.Time, includeBounding bool) ([]historian.Sample, error) {
	var out []historian.Sample
	for _, s := range f.samples[path] {
		if !s.Timestamp.After(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestLiveValueReader_ReadCounters(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	fs := &fakeSeries{samples: map[string][]historian.Sample{
		"STN1/Count": {{Timestamp: now.Add(-time.Minute), Value: 142}},
	}}
	client := historian.New(fs)
	reader := NewLiveValueReader(client, func() time.Time { return now })

	stations := []domain.Station{
		{StationID: "STN1", TagPath: "STN1/Count"},
		{StationID: "STN2", TagPath: ""},
	}
	out := reader.ReadCounters(context.Background(), stations)

	require.True(t, out["STN1"].Good)
	require.EqualValues(t, 142, out["STN1"].Value)
	_, exists := out["STN2"]
	require.False(t, exists)
}

func TestFixtureReader_ReadFixtures_NonTurntable(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	fs := &fakeSeries{samples: map[string][]historian.Sample{
		"STN1/Fixture_1/Part_Number": {{Timestamp: now.Add(-time.Minute), Value: 100}},
	}}
	client := historian.New(fs)

	cache := config.NewCache(&fakePartCTStore{parts: []domain.PartCT{{PartNumber: "100", CycleTimeSec: 12.5}}}, time.Minute)
	reader := NewFixtureReader(client, cache, func() time.Time { return now })

	st := domain.Station{StationID: "STN1", TagPath: "STN1", FixturesPerSide: 1, IsTurntable: false}
	samples := reader.ReadFixtures(context.Background(), st)

	require.Len(t, samples, 1)
	require.Equal(t, 12.5, samples[0].CTSec)
}

type fakePartCTStore struct {
	parts []domain.PartCT
}

func (f *fakePartCTStore) GetActiveStationsForRollup(ctx context.Context, criticalOnly bool) ([]domain.Station, store.Kind, error) {
	return nil, store.KindEmpty, nil
}

func (f *fakePartCTStore) GetPartCTsForStation(ctx context.Context, stationID string) ([]domain.PartCT, store.Kind, error) {
	return f.parts, store.KindOK, nil
}

func TestStaticServerNameResolver(t *testing.T) {
	r := NewStaticServerNameResolver("Plant Broker")
	name, ok := r.ReadBrokerName(context.Background())
	require.True(t, ok)
	require.Equal(t, "Plant Broker", name)

	empty := NewStaticServerNameResolver("")
	_, ok = empty.ReadBrokerName(context.Background())
	require.False(t, ok)
}

func TestHierarchyResolver_ResolvesRepresentativeStation(t *testing.T) {
	cacheStore := &fakeStationsStore{
		stations: []domain.Station{{StationID: "STN1", LineID: "L1"}},
	}
	cache := config.NewCache(cacheStore, time.Minute)
	hStore := &fakeHierarchyStore{
		rows: []store.HierarchyNames{{StationID: "STN1", Area: "A1", Subarea: "SA1", Line: "L1"}},
	}
	r := NewHierarchyResolver(cache, hStore)

	h, ok := r.HierarchyForLine(context.Background(), "L1")
	require.True(t, ok)
	require.Equal(t, "A1", h.Area)
}

type fakeStationsStore struct {
	stations []domain.Station
}

func (f *fakeStationsStore) GetActiveStationsForRollup(ctx context.Context, criticalOnly bool) ([]domain.Station, store.Kind, error) {
	return f.stations, store.KindOK, nil
}

func (f *fakeStationsStore) GetPartCTsForStation(ctx context.Context, stationID string) ([]domain.PartCT, store.Kind, error) {
	return nil, store.KindEmpty, nil
}

type fakeHierarchyStore struct {
	rows []store.HierarchyNames
}

func (f *fakeHierarchyStore) GetHierarchyForStations(ctx context.Context, stationIDs []string) ([]store.HierarchyNames, store.Kind, error) {
	return f.rows, store.KindOK, nil
}

func TestStatusBuilder_FlatStation(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	fs := &fakeSeries{samples: map[string][]historian.Sample{
		"STN1/Count":                 {{Timestamp: now.Add(-time.Minute), Value: 250}},
		"STN1/Fixture_1/Part_Number": {{Timestamp: now.Add(-time.Minute), Value: 100}},
	}}
	client := historian.New(fs)
	cache := config.NewCache(&fakePartCTStore{parts: []domain.PartCT{{PartNumber: "100", CycleTimeSec: 30}}}, time.Minute)
	builder := NewStatusBuilder(client, cache, func() time.Time { return now })

	st := domain.Station{StationID: "STN1", TagPath: "STN1", FixturesPerSide: 1, IsTurntable: false}
	payload := builder.Build(context.Background(), st)

	require.Equal(t, 1, payload.Version)
	require.Len(t, payload.Data, 1)
	require.Equal(t, 1, payload.Data[0].SideID)
	require.EqualValues(t, 250, payload.Data[0].TotalParts)
	require.Equal(t, 30.0, payload.Data[0].CycleTime)
	require.Len(t, payload.Data[0].Fixtures, 1)
	require.Equal(t, 1, payload.Data[0].Fixtures[0].FixtureIndex)
}

func TestStatusBuilder_TurntableStation_TwoSides(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	fs := &fakeSeries{samples: map[string][]historian.Sample{
		"STN2/Count": {{Timestamp: now.Add(-time.Minute), Value: 999}},
		"STN2/TurntableSide_1/TurntableFixtures/TurntableFixture_1/Part_Number": {{Timestamp: now.Add(-time.Minute), Value: 100}},
		"STN2/TurntableSide_2/TurntableFixtures/TurntableFixture_1/Part_Number": {{Timestamp: now.Add(-time.Minute), Value: 200}},
	}}
	client := historian.New(fs)
	cache := config.NewCache(&fakePartCTStore{parts: []domain.PartCT{
		{PartNumber: "100", CycleTimeSec: 30},
		{PartNumber: "200", CycleTimeSec: 50},
	}}, time.Minute)
	builder := NewStatusBuilder(client, cache, func() time.Time { return now })

	st := domain.Station{StationID: "STN2", TagPath: "STN2", FixturesPerSide: 1, IsTurntable: true}
	payload := builder.Build(context.Background(), st)

	require.Len(t, payload.Data, 2)
	require.Equal(t, 1, payload.Data[0].SideID)
	require.Equal(t, 30.0, payload.Data[0].CycleTime)
	require.Equal(t, 2, payload.Data[1].SideID)
	require.Equal(t, 50.0, payload.Data[1].CycleTime)
	require.EqualValues(t, 999, payload.Data[1].TotalParts) // shared station-level counter
}
