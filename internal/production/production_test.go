package production

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

type fakeStore struct {
	hourly        []domain.RollupRow
	shifts        []domain.RollupRow
	weekly        []domain.RollupRow
	hierarchy     []store.HierarchyNames
	hourlyMarked  []string
	shiftMarked   []string
	weeklyMarked  []string
}

func (f *fakeStore) GetHourlyRowsToPublish(ctx context.Context, lookbackHours, catchupHours int) ([]domain.RollupRow, store.Kind, error) {
	if len(f.hourly) == 0 {
		return nil, store.KindEmpty, nil
	}
	return f.hourly, store.KindOK, nil
}

func (f *fakeStore) MarkHourlyPublished(ctx context.Context, stationID string, hourStart time.Time) (store.Kind, error) {
	f.hourlyMarked = append(f.hourlyMarked, stationID)
	return store.KindOK, nil
}

func (f *fakeStore) GetEndedShiftRowsToPublish(ctx context.Context, day0, day1 string) ([]domain.RollupRow, store.Kind, error) {
	if len(f.shifts) == 0 {
		return nil, store.KindEmpty, nil
	}
	return f.shifts, store.KindOK, nil
}

func (f *fakeStore) MarkShiftPublished(ctx context.Context, stationID, shiftID, shiftDate string) (store.Kind, error) {
	f.shiftMarked = append(f.shiftMarked, stationID+"|"+shiftID+"|"+shiftDate)
	return store.KindOK, nil
}

func (f *fakeStore) GetWeeklyRowsToPublish(ctx context.Context, now time.Time) ([]domain.RollupRow, store.Kind, error) {
	if len(f.weekly) == 0 {
		return nil, store.KindEmpty, nil
	}
	return f.weekly, store.KindOK, nil
}

func (f *fakeStore) MarkWeeklyPublished(ctx context.Context, stationID, weekStart string) (store.Kind, error) {
	f.weeklyMarked = append(f.weeklyMarked, stationID+"|"+weekStart)
	return store.KindOK, nil
}

func (f *fakeStore) GetHierarchyForStations(ctx context.Context, stationIDs []string) ([]store.HierarchyNames, store.Kind, error) {
	return f.hierarchy, store.KindOK, nil
}

type fakeCalendar struct{ idx *shiftcalendar.Index }

func (f *fakeCalendar) Current() *shiftcalendar.Index { return f.idx }

type fakePublisher struct {
	published []publishedMsg
}

type publishedMsg struct {
	lineID, scope string
	body          any
}

func (f *fakePublisher) PublishScoped(ctx context.Context, lineID, scopeSlug string, qos byte, retain bool, payload any) error {
	f.published = append(f.published, publishedMsg{lineID, scopeSlug, payload})
	return nil
}

func TestPublishHourly_LiveTargetBounds(t *testing.T) {
	loc := time.UTC
	hourStart := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	now := hourStart.Add(30 * time.Minute)

	idx := shiftcalendar.Build(nil, nil)

	st := &fakeStore{hourly: []domain.RollupRow{
		{StationID: "S1", LineID: "L1", AnchorTime: hourStart, TotalParts: 40, TargetPartsBase: 100, IsClosed: false},
	}}
	pub := &fakePublisher{}
	eng := New(st, &fakeCalendar{idx: idx}, pub, zap.NewNop(), loc, 6, 48)

	eng.Tick(context.Background(), now)

	require.Len(t, pub.published, 1)
	body := pub.published[0].body.(map[string]any)["HourlyProduction"].(map[string]any)
	live := body["LiveTarget"].(int64)
	require.GreaterOrEqual(t, live, int64(0))
	require.LessOrEqual(t, live, int64(100))
	require.InDelta(t, 50, live, 1) // half the hour elapsed, no breaks
	require.Empty(t, st.hourlyMarked)  // not closed -> not marked
}

func TestPublishHourly_ClosedRowZeroLiveTargetAndMarked(t *testing.T) {
	loc := time.UTC
	hourStart := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	now := hourStart.Add(90 * time.Minute)

	idx := shiftcalendar.Build(nil, nil)
	st := &fakeStore{hourly: []domain.RollupRow{
		{StationID: "S1", LineID: "L1", AnchorTime: hourStart, TotalParts: 80, TargetPartsBase: 100, IsClosed: true},
	}}
	pub := &fakePublisher{}
	eng := New(st, &fakeCalendar{idx: idx}, pub, zap.NewNop(), loc, 6, 48)

	eng.Tick(context.Background(), now)

	body := pub.published[0].body.(map[string]any)["HourlyProduction"].(map[string]any)
	require.Equal(t, int64(0), body["LiveTarget"])
	require.Equal(t, []string{"S1"}, st.hourlyMarked)
}

func TestPublishShifts_BucketIDFromShiftEnd(t *testing.T) {
	loc := time.UTC
	shiftDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	sw := domain.ShiftWindow{
		ShiftID: "SH1", LineID: "L1", ShiftLocalDate: "2026-07-31",
		Start: time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC),
	}
	idx := shiftcalendar.Build(nil, []domain.ShiftWindow{sw})

	st := &fakeStore{shifts: []domain.RollupRow{
		{StationID: "S1", LineID: "L1", ShiftID: "SH1", AnchorTime: shiftDate, TotalParts: 500, TargetPartsBase: 480, IsClosed: true},
	}}
	pub := &fakePublisher{}
	eng := New(st, &fakeCalendar{idx: idx}, pub, zap.NewNop(), loc, 6, 48)

	eng.Tick(context.Background(), sw.End.Add(2*time.Hour))

	require.Len(t, pub.published, 1)
	body := pub.published[0].body.(map[string]any)["ShiftProduction"].(map[string]any)
	require.Equal(t, int64(0), body["LiveTarget"])
	require.Equal(t, 13, body["BucketID"]) // shift end (14:00) minus 1s -> hour 13
	require.Equal(t, []string{"S1|SH1|2026-07-31"}, st.shiftMarked)
}

func TestPublishWeekly_StationNameFallback(t *testing.T) {
	loc := time.UTC
	weekStart := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{
		weekly: []domain.RollupRow{
			{StationID: "S1", LineID: "L1", AnchorTime: weekStart, TotalParts: 9000},
			{StationID: "S2", LineID: "L1", AnchorTime: weekStart, TotalParts: 500},
		},
		hierarchy: []store.HierarchyNames{{StationID: "S1", StationName: "Weld Cell 1"}},
	}
	pub := &fakePublisher{}
	eng := New(st, &fakeCalendar{idx: shiftcalendar.Build(nil, nil)}, pub, zap.NewNop(), loc, 6, 48)

	eng.Tick(context.Background(), weekStart.Add(7*24*time.Hour))

	require.Len(t, pub.published, 2)
	body1 := pub.published[0].body.(map[string]any)["ProductionWeekly"].(map[string]any)
	require.Equal(t, "Weld Cell 1", body1["Stn_ID"])
	body2 := pub.published[1].body.(map[string]any)["ProductionWeekly"].(map[string]any)
	require.Equal(t, "S2", body2["Stn_ID"]) // no hierarchy row -> falls back to station_id
	require.ElementsMatch(t, []string{"S1|2026-07-27", "S2|2026-07-27"}, st.weeklyMarked)
}
