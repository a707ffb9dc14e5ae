// Package cycletime implements the CT & Target Engine (§4.5): derives
// effective cycle time from live fixture/part snapshots via a
// parallelism blend, journals CT segments, and computes break-aware
// hour/shift base targets.
package cycletime

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// DebounceTicks is the default number of consecutive stable ticks
// required before a parts-set change takes effect (§6 DEBOUNCE_TICKS).
const DebounceTicks = 1

// EffectiveCT blends per-fixture cycle times c (k = len(c)) with
// parallelism factor lambda (§4.5):
//
//	k=0 -> 0; k=1 -> c[0]; k>=2 -> (1-lambda)*mean(c) + lambda*(max(c)/k)
func EffectiveCT(c []float64, lambda float64) float64 {
	k := len(c)
	switch {
	case k == 0:
		return 0
	case k == 1:
		return c[0]
	default:
		mean := sum(c) / float64(k)
		max := maxOf(c)
		return (1-lambda)*mean + lambda*(max/float64(k))
	}
}

// EffectiveMultiplier blends the same way but with min in place of max
// (source's documented asymmetry, recovered from original_source).
func EffectiveMultiplier(mult []float64, lambda float64) float64 {
	k := len(mult)
	switch {
	case k == 0:
		return 0
	case k == 1:
		return mult[0]
	default:
		mean := sum(mult) / float64(k)
		min := minOf(mult)
		return (1-lambda)*mean + lambda*(min/float64(k))
	}
}

func sum(v []float64) float64 {
	var t float64
	for _, x := range v {
		t += x
	}
	return t
}
func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// FixtureReader supplies the current fixture samples for a station (§4.5
// "Parts snapshot").
type FixtureReader interface {
	ReadFixtures(ctx context.Context, st domain.Station) []domain.FixtureSample
}

// CalendarSource mirrors the rollup engine's shared-cache contract.
type CalendarSource interface {
	Current() *shiftcalendar.Index
}

// Store is the subset of store.Store the CT & Target Engine calls.
type Store interface {
	CtSegmentUpsertOnChange(ctx context.Context, seg domain.CTSegment) (store.Kind, error)
	UpsertHourlyTargetsBatch(ctx context.Context, rows []domain.BaseTargetRow) (store.Kind, error)
	UpsertShiftTargetsBatch(ctx context.Context, rows []domain.BaseTargetRow) (store.Kind, error)
	GetHourlyRowsMissingTargets(ctx context.Context, lookbackHours int) ([]store.MissingTargetRow, store.Kind, error)
	GetShiftRowsMissingTargets(ctx context.Context, lookbackDays int) ([]store.MissingTargetRow, store.Kind, error)
}

type pendingSegment struct {
	seg      domain.CTSegment
	prevVal  float64
	tagPath  string
	force    bool
}

type stationTrack struct {
	stableParts   string // canonicalized snapshot key
	stableTicks   int
	current       domain.CTSegment
	pending       *pendingSegment
	lastHourEmit  map[time.Time]int64
	lastShiftEmit map[string]int64
}

// Engine owns CT-segment journaling state exclusively per station.
type Engine struct {
	fixtures FixtureReader
	calendar CalendarSource
	hist     *historian.Client
	store    Store
	log      *zap.Logger
	loc      *time.Location
	now      func() time.Time

	track map[string]*stationTrack
}

// New builds a CT & Target Engine.
func New(fixtures FixtureReader, calendar CalendarSource, hist *historian.Client, st Store, log *zap.Logger, loc *time.Location, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{fixtures: fixtures, calendar: calendar, hist: hist, store: st, log: log, loc: loc, now: now, track: map[string]*stationTrack{}}
}

// Tick evaluates every station's parts snapshot, journals CT segment
// changes, and (re)computes base targets (§4.5).
func (e *Engine) Tick(ctx context.Context, stations []domain.Station, parts map[string][]domain.PartCT) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("cycletime tick panic recovered", zap.Any("panic", r))
		}
	}()

	idx := e.calendar.Current()
	if idx == nil {
		return
	}
	now := e.now()

	for _, st := range stations {
		tr, ok := e.track[st.StationID]
		if !ok {
			tr = &stationTrack{lastHourEmit: map[time.Time]int64{}, lastShiftEmit: map[string]int64{}}
			e.track[st.StationID] = tr
		}
		e.evaluateStation(ctx, st, tr, parts[st.StationID], now)
		e.emitTargets(ctx, st, tr, idx, now)
	}
}

func (e *Engine) evaluateStation(ctx context.Context, st domain.Station, tr *stationTrack, partCTs []domain.PartCT, now time.Time) {
	samples := e.fixtures.ReadFixtures(ctx, st)

	if len(samples) == 0 {
		e.applySegment(ctx, st, tr, domain.CTModeMissingConfig, 0, 0, nil, now, true)
		return
	}

	picked := pickFixtures(samples, st.IsTurntable)
	var cts, mults []float64
	missing := false
	for _, p := range picked {
		if len(partCTs) == 0 {
			missing = true
			continue
		}
		cts = append(cts, p.CTSec)
		mults = append(mults, multiplierForPart(p.PartNumber, partCTs))
	}

	mode := domain.CTModeLiveFixtures
	if missing || len(cts) == 0 {
		mode = domain.CTModeMissingConfig
	} else if len(partCTs) == 0 {
		mode = domain.CTModeFallbackConfig
	}

	ctEff := EffectiveCT(cts, st.ParallelismFactor)
	multEff := EffectiveMultiplier(mults, st.ParallelismFactor)

	partsJSON, _ := json.Marshal(picked)
	e.applySegment(ctx, st, tr, mode, ctEff, multEff, partsJSON, now, mode == domain.CTModeMissingConfig)
}

// multiplierForPart resolves the overcycle multiplier of the part actually
// matched on a fixture, falling back to the first configured part's
// multiplier only when the fixture's part number wasn't in the config
// (§4.5; ProductionTargetsLive.py:766-786 builds mult_vals per matched part).
func multiplierForPart(partNumber string, parts []domain.PartCT) float64 {
	for _, p := range parts {
		if p.PartNumber == partNumber {
			return p.OvercycleMultiplier
		}
	}
	if len(parts) > 0 {
		return parts[0].OvercycleMultiplier
	}
	return 1
}

// pickFixtures resolves one CT reading per fixture index; for turntables,
// the newer-timestamped side wins, ties favor side 1 (§4.5).
func pickFixtures(samples []domain.FixtureSample, isTurntable bool) []domain.FixtureSample {
	if !isTurntable {
		out := make([]domain.FixtureSample, 0, len(samples))
		for _, s := range samples {
			if s.Good {
				out = append(out, s)
			}
		}
		return out
	}
	bySlot := map[int]domain.FixtureSample{}
	haveSlot := map[int]bool{}
	for _, s := range samples {
		if !s.Good {
			continue
		}
		cur, ok := bySlot[s.FixtureIndex]
		if !ok || s.SourceTS.After(cur.SourceTS) || (s.SourceTS.Equal(cur.SourceTS) && s.Side == 1) {
			bySlot[s.FixtureIndex] = s
			haveSlot[s.FixtureIndex] = true
		}
	}
	keys := make([]int, 0, len(bySlot))
	for k := range bySlot {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]domain.FixtureSample, 0, len(keys))
	for _, k := range keys {
		out = append(out, bySlot[k])
	}
	return out
}

// applySegment debounces a candidate CT/multiplier reading and journals a
// new CT segment when it materializes (§4.5 "CT Segment journal").
func (e *Engine) applySegment(ctx context.Context, st domain.Station, tr *stationTrack, mode domain.CTMode, ctEff, multEff float64, partsJSON []byte, now time.Time, force bool) {
	key := string(mode) + "|" + jsonKey(partsJSON)
	if tr.current.CTMode == mode && floatsClose(tr.current.CTEffSec, ctEff) && floatsClose(tr.current.OvercycleMultiplier, multEff) {
		tr.stableTicks = 0
		tr.stableParts = key
		return
	}

	if tr.stableParts != key {
		tr.stableParts = key
		tr.stableTicks = 0
	}
	tr.stableTicks++

	if !force && tr.stableTicks <= DebounceTicks {
		return // still debouncing
	}

	seg := domain.CTSegment{
		StationID: st.StationID, CTEffSec: ctEff, FixturesPerSide: st.FixturesPerSide,
		IsTurntable: st.IsTurntable, ParallelismFactor: st.ParallelismFactor,
		PartsJSON: partsJSON, CTMode: mode, OvercycleMultiplier: multEff,
	}

	if force || mode == domain.CTModeMissingConfig {
		seg.EffectiveFromUTC = now
		e.materialize(ctx, st, tr, seg)
		return
	}

	tr.pending = &pendingSegment{seg: seg, tagPath: st.TagPath}
}

// MaterializePending checks every station with a pending segment for the
// first historian increment since the pending state began, pinning
// effective_from_utc to that event rather than wall-clock now.
func (e *Engine) MaterializePending(ctx context.Context, stations []domain.Station, lastCounter map[string]float64, windowStart, windowEnd time.Time) {
	for _, st := range stations {
		tr, ok := e.track[st.StationID]
		if !ok || tr.pending == nil || !st.HasTag() {
			continue
		}
		prev := lastCounter[st.StationID]
		ts, err := e.hist.FirstIncrementAfter(ctx, st.TagPath, prev, windowStart, windowEnd)
		if err != nil || ts == nil {
			continue
		}
		seg := tr.pending.seg
		seg.EffectiveFromUTC = *ts
		e.materialize(ctx, st, tr, seg)
		tr.pending = nil
	}
}

func (e *Engine) materialize(ctx context.Context, st domain.Station, tr *stationTrack, seg domain.CTSegment) {
	if _, err := e.store.CtSegmentUpsertOnChange(ctx, seg); err != nil {
		e.log.Error("cycletime: segment upsert failed", zap.String("station_id", st.StationID), zap.Error(err))
		return
	}
	tr.current = seg
}

func jsonKey(b []byte) string {
	if b == nil {
		return ""
	}
	return string(b)
}

func floatsClose(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
