package overcycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

func TestClassify_Scenario6(t *testing.T) {
	// ct=30, mult=2.0 -> bound 60
	isOC, over := Classify(29, 30, 2.0)
	require.False(t, isOC)
	require.Zero(t, over)

	isOC, over = Classify(35, 30, 2.0)
	require.True(t, isOC)
	require.InDelta(t, 5, over, 1e-9)

	isOC, over = Classify(61, 30, 2.0)
	require.False(t, isOC) // exceeds ct*mult -> idle/changeover
	require.Zero(t, over)

	isOC, over = Classify(45, 30, 2.0)
	require.True(t, isOC)
	require.InDelta(t, 15, over, 1e-9)
}

func TestClassify_NoConfig(t *testing.T) {
	isOC, _ := Classify(50, 0, 2.0)
	require.False(t, isOC)
}

func TestCtAt_MonotonicHint(t *testing.T) {
	segs := []domain.CTSegment{
		{EffectiveFromUTC: time.Unix(0, 0), CTEffSec: 10},
		{EffectiveFromUTC: time.Unix(100, 0), CTEffSec: 20},
		{EffectiveFromUTC: time.Unix(200, 0), CTEffSec: 30},
	}
	ct, _, hint := ctAt(time.Unix(50, 0), segs, 0)
	require.Equal(t, 10.0, ct)
	ct, _, hint = ctAt(time.Unix(150, 0), segs, hint)
	require.Equal(t, 20.0, ct)
	ct, _, _ = ctAt(time.Unix(250, 0), segs, hint)
	require.Equal(t, 30.0, ct)
}

func TestBuildTopOvercycleTimes_Ordering(t *testing.T) {
	accum := []domain.CumulativeAnchor{
		{StationID: "S2", IncOverSec: 100, IncOverCnt: 3},
		{StationID: "S1", IncOverSec: 200, IncOverCnt: 1},
		{StationID: "S3", IncOverSec: 100, IncOverCnt: 5},
	}
	top := BuildTopOvercycleTimes(accum)
	require.Len(t, top.Overcycles, 3)
	require.Equal(t, "S1", top.Overcycles[0].StnID)
	require.Equal(t, "S3", top.Overcycles[1].StnID) // tie on sum_over, higher cnt wins
	require.Equal(t, "S2", top.Overcycles[2].StnID)
}

func TestBuildTopOvercycleTimes_CapsAtMaxTop(t *testing.T) {
	var accum []domain.CumulativeAnchor
	for i := 0; i < 8; i++ {
		accum = append(accum, domain.CumulativeAnchor{StationID: itoa(int64(i)), IncOverSec: float64(i)})
	}
	top := BuildTopOvercycleTimes(accum)
	require.Len(t, top.Overcycles, MaxTop)
}

type fakeCycleSeries struct {
	samples []historian.Sample
}

func (f *fakeCycleSeries) QueryHistory(ctx context.Context, path string, start, end time.Time, includeBounding bool) ([]historian.Sample, error) {
	return f.samples, nil
}

type fakeOCCalendar struct{ idx *shiftcalendar.Index }

func (f *fakeOCCalendar) Current() *shiftcalendar.Index { return f.idx }

type fakeOCStore struct {
	segs          []domain.CTSegment
	stationBatches [][]domain.CumulativeAnchor
	accum         []domain.CumulativeAnchor
	lineUpserts   int
	finalUpserts  int
}

func (s *fakeOCStore) GetCtSegmentsForStationBetween(ctx context.Context, stationID string, start, end time.Time) ([]domain.CTSegment, store.Kind, error) {
	return s.segs, store.KindOK, nil
}
func (s *fakeOCStore) UpsertSlotStationBatch(ctx context.Context, anchors []domain.CumulativeAnchor) (store.Kind, error) {
	s.stationBatches = append(s.stationBatches, anchors)
	return store.KindOK, nil
}
func (s *fakeOCStore) GetShiftAccumForLine(ctx context.Context, lineID, shiftID, shiftDate string) ([]domain.CumulativeAnchor, store.Kind, error) {
	return s.accum, store.KindOK, nil
}
func (s *fakeOCStore) UpsertSlotLineBatch(ctx context.Context, lineID, shiftID, shiftDate string, isFinal bool, payload json.RawMessage, createdBy string) (store.Kind, error) {
	s.lineUpserts++
	if isFinal {
		s.finalUpserts++
	}
	return store.KindOK, nil
}

type fakeOCPublisher struct{ calls int }

func (p *fakeOCPublisher) PublishTopOvercycles(ctx context.Context, lineID, shiftID string, times, totals TopPayload) error {
	p.calls++
	return nil
}

// TestEngine_ShiftFinalizationIdempotent exercises spec.md §8 Scenario 5:
// a shift that ended 5 minutes ago gets one catch-up pass with is_final,
// and a later tick for the same shift performs no further writes.
func TestEngine_ShiftFinalizationIdempotent(t *testing.T) {
	loc := time.UTC
	shiftEnd := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	sw := domain.ShiftWindow{
		ShiftID: "SH1", LineID: "L1", ShiftLocalDate: "2026-07-31",
		Start: time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC), End: shiftEnd,
	}
	idx := shiftcalendar.Build(nil, []domain.ShiftWindow{sw})
	stations := []domain.Station{{StationID: "S1", LineID: "L1", TagPath: "line/S1"}}

	series := &fakeCycleSeries{samples: []historian.Sample{{Timestamp: shiftEnd.Add(-5 * time.Minute), Value: 45}}}
	st := &fakeOCStore{segs: []domain.CTSegment{{EffectiveFromUTC: sw.Start, CTEffSec: 30, OvercycleMultiplier: 2.0}}}
	pub := &fakeOCPublisher{}
	eng := New(series, &fakeOCCalendar{idx: idx}, st, pub, zap.NewNop(), loc)

	firstTick := shiftEnd.Add(5 * time.Minute)
	eng.Tick(context.Background(), []string{"L1"}, map[string][]domain.Station{"L1": stations}, firstTick)

	require.Len(t, st.stationBatches, 1, "first post-shift tick writes the catch-up anchor batch")
	require.Equal(t, 1, st.finalUpserts, "first post-shift tick marks the slot_line row final")
	require.Equal(t, 1, pub.calls)

	secondTick := shiftEnd.Add(10 * time.Minute)
	eng.Tick(context.Background(), []string{"L1"}, map[string][]domain.Station{"L1": stations}, secondTick)

	require.Len(t, st.stationBatches, 1, "second tick for the same shift performs no further writes (past_shift_done_keys)")
	require.Equal(t, 1, st.finalUpserts)
	require.Equal(t, 1, pub.calls)
}
