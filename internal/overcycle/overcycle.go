// Package overcycle implements the Overcycle Detection & Publish Engine
// (§4.6): scans realized cycle-time history within shift windows,
// classifies overcycle events against segmented CT, accumulates
// cumulative per-station anchors, and builds/publishes top-N
// leaderboards.
package overcycle

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
	"github.com/magnaline/productiontelemetry/internal/valuetype"
)

// MaxTop is the leaderboard size (§6 MAX_TOP).
const MaxTop = 5

// FinalGrace is the late-reconciliation horizon for a just-ended shift
// (§6 FINAL_GRACE_MIN = 18h).
const FinalGrace = 18 * time.Hour

// Classify applies the §4.6/P8 overcycle rule to one realized cycle
// time. Returns (isOvercycle, overSeconds).
func Classify(act, ct, mult float64) (bool, float64) {
	if ct <= 0 {
		return false, 0 // ConfigMissing: no CT configured
	}
	if act <= ct {
		return false, 0
	}
	if act > ct*mult {
		return false, 0 // idle/changeover, not overcycle
	}
	return true, act - ct
}

// Publisher is the subset of broker.Client the engine calls.
type Publisher interface {
	PublishTopOvercycles(ctx context.Context, lineID, shiftID string, times, totals TopPayload) error
}

// Store is the subset of store.Store the Overcycle Engine calls.
type Store interface {
	GetCtSegmentsForStationBetween(ctx context.Context, stationID string, start, end time.Time) ([]domain.CTSegment, store.Kind, error)
	UpsertSlotStationBatch(ctx context.Context, anchors []domain.CumulativeAnchor) (store.Kind, error)
	GetShiftAccumForLine(ctx context.Context, lineID, shiftID, shiftDate string) ([]domain.CumulativeAnchor, store.Kind, error)
	UpsertSlotLineBatch(ctx context.Context, lineID, shiftID, shiftDate string, isFinal bool, payload json.RawMessage, createdBy string) (store.Kind, error)
}

// CycleTimeSeries reads the historized realized cycle-time tag (distinct
// from the TotalParts counter — §4.6 step 2 note).
type CycleTimeSeries interface {
	QueryHistory(ctx context.Context, path string, start, end time.Time, includeBounding bool) ([]historian.Sample, error)
}

// CalendarSource mirrors the other engines' shared-cache contract.
type CalendarSource interface {
	Current() *shiftcalendar.Index
}

// Engine owns past_shift_done_keys exclusively (§5).
type Engine struct {
	cycleSeries CycleTimeSeries
	calendar    CalendarSource
	store       Store
	publisher   Publisher
	log         *zap.Logger
	loc         *time.Location

	lastAsOf      map[string]time.Time // "line|shiftID|shiftDate" -> last as_of_local
	pastShiftDone map[string]struct{}
}

// New builds an Overcycle Engine.
func New(cycleSeries CycleTimeSeries, calendar CalendarSource, st Store, pub Publisher, log *zap.Logger, loc *time.Location) *Engine {
	return &Engine{
		cycleSeries:   cycleSeries,
		calendar:      calendar,
		store:         st,
		publisher:     pub,
		log:           log,
		loc:           loc,
		lastAsOf:      map[string]time.Time{},
		pastShiftDone: map[string]struct{}{},
	}
}

// StationDelta is the per-station classification result for one window.
type StationDelta struct {
	StationID   string
	Count       int64
	SumOverSec  float64
	MaxOverSec  float64
}

// Tick runs one pass over every line with an active or just-ended shift
// within grace (§4.6 steps 1-7).
func (e *Engine) Tick(ctx context.Context, lines []string, stationsByLine map[string][]domain.Station, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("overcycle tick panic recovered", zap.Any("panic", r))
		}
	}()

	idx := e.calendar.Current()
	if idx == nil {
		return
	}

	for _, line := range lines {
		if sw, ok := idx.ActiveShift(line, now); ok {
			e.processWindow(ctx, line, stationsByLine[line], sw, now, false)
			continue
		}
		if sw, ok := idx.LastEndedShift(line, now, FinalGrace); ok {
			key := line + "|" + sw.ShiftID + "|" + sw.ShiftLocalDate
			if _, done := e.pastShiftDone[key]; !done {
				e.processWindow(ctx, line, stationsByLine[line], sw, sw.End, true)
				e.pastShiftDone[key] = struct{}{}
			}
		}
	}
}

func (e *Engine) processWindow(ctx context.Context, line string, stations []domain.Station, sw domain.ShiftWindow, b time.Time, isFinal bool) {
	key := line + "|" + sw.ShiftID + "|" + sw.ShiftLocalDate
	a, ok := e.lastAsOf[key]
	if !ok {
		a = sw.Start
	}
	if !b.After(a) {
		return
	}

	var anchors []domain.CumulativeAnchor
	for _, st := range stations {
		if !st.HasTag() {
			continue
		}
		delta, err := e.scanStation(ctx, st, a, b)
		if err != nil {
			e.log.Error("overcycle: station scan failed", zap.String("station_id", st.StationID), zap.Error(err))
			continue
		}
		if delta.Count == 0 {
			continue // zero-count stations get no anchor row this pass, whether or not they already have a row this shift
		}
		anchors = append(anchors, domain.CumulativeAnchor{
			LineID: line, ShiftID: sw.ShiftID, ShiftDate: sw.ShiftLocalDate, StationID: st.StationID,
			AsOfLocal: b, IncOverCnt: delta.Count, IncOverSec: delta.SumOverSec, IncMaxOverSec: delta.MaxOverSec,
			SlotDurationMin: b.Sub(sw.Start).Minutes(),
		})
	}

	if len(anchors) > 0 {
		if _, err := e.store.UpsertSlotStationBatch(ctx, anchors); err != nil {
			e.log.Error("overcycle: anchor upsert failed", zap.Error(err))
		}
	}
	e.lastAsOf[key] = b

	e.publishLeaderboards(ctx, line, sw, isFinal)
}

func (e *Engine) scanStation(ctx context.Context, st domain.Station, a, b time.Time) (StationDelta, error) {
	segs, _, err := e.store.GetCtSegmentsForStationBetween(ctx, st.StationID, a, b)
	if err != nil {
		return StationDelta{StationID: st.StationID}, err
	}
	samples, err := e.cycleSeries.QueryHistory(ctx, st.TagPath, a, b, true)
	if err != nil {
		return StationDelta{StationID: st.StationID}, err
	}

	delta := StationDelta{StationID: st.StationID}
	hint := 0
	for _, s := range samples {
		ct, mult, newHint := ctAt(s.Timestamp, segs, hint)
		hint = newHint
		isOC, over := Classify(s.Value, ct, mult)
		if !isOC {
			continue
		}
		delta.Count++
		delta.SumOverSec += over
		if over > delta.MaxOverSec {
			delta.MaxOverSec = over
		}
	}
	return delta, nil
}

// ctAt resolves the CT segment applicable at ts using a monotonic scan
// hint (§4.5 expansion notes — segments are scanned in a stable order
// each tick so the hint only ever advances).
func ctAt(ts time.Time, segs []domain.CTSegment, hint int) (ct, mult float64, nextHint int) {
	if len(segs) == 0 {
		return 0, 0, hint
	}
	i := hint
	if i >= len(segs) {
		i = len(segs) - 1
	}
	for i+1 < len(segs) && !segs[i+1].EffectiveFromUTC.After(ts) {
		i++
	}
	for i > 0 && segs[i].EffectiveFromUTC.After(ts) {
		i--
	}
	return segs[i].CTEffSec, segs[i].OvercycleMultiplier, i
}

// TopEntry is one leaderboard row.
type TopEntry struct {
	ID     int
	StnID  string
	Value  string
}

// TopPayload is the §6 TopOvercycleTimes/TopOvercycleTotals shape.
type TopPayload struct {
	Overcycles []TopEntry
	LineID     string
	ShiftID    string
}

func (e *Engine) publishLeaderboards(ctx context.Context, line string, sw domain.ShiftWindow, isFinal bool) {
	accum, _, err := e.store.GetShiftAccumForLine(ctx, line, sw.ShiftID, sw.ShiftLocalDate)
	if err != nil {
		e.log.Error("overcycle: leaderboard accum query failed", zap.Error(err))
		return
	}

	times := BuildTopOvercycleTimes(accum)
	times.LineID, times.ShiftID = line, sw.ShiftID
	totals := BuildTopOvercycleTotals(accum)
	totals.LineID, totals.ShiftID = line, sw.ShiftID

	if e.publisher != nil {
		if err := e.publisher.PublishTopOvercycles(ctx, line, sw.ShiftID, times, totals); err != nil {
			e.log.Error("overcycle: publish failed", zap.Error(err))
		}
	}

	payload := mustJSON(struct {
		Times  TopPayload `json:"times"`
		Totals TopPayload `json:"totals"`
	}{times, totals})
	if _, err := e.store.UpsertSlotLineBatch(ctx, line, sw.ShiftID, sw.ShiftLocalDate, isFinal, payload, "overcycle-engine"); err != nil {
		e.log.Error("overcycle: slot_line upsert failed", zap.Error(err))
	}
}

// BuildTopOvercycleTimes orders stations by (sum_over desc, cnt desc),
// ties broken by station_id asc (P6), formatted m:ss.
func BuildTopOvercycleTimes(accum []domain.CumulativeAnchor) TopPayload {
	sorted := append([]domain.CumulativeAnchor(nil), accum...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].IncOverSec != sorted[j].IncOverSec {
			return sorted[i].IncOverSec > sorted[j].IncOverSec
		}
		if sorted[i].IncOverCnt != sorted[j].IncOverCnt {
			return sorted[i].IncOverCnt > sorted[j].IncOverCnt
		}
		return sorted[i].StationID < sorted[j].StationID
	})
	return toTop(sorted, func(a domain.CumulativeAnchor) string { return valuetype.FormatMMSS(a.IncOverSec) })
}

// BuildTopOvercycleTotals orders stations by (cnt desc, sum_over desc),
// ties broken by station_id asc (P6).
func BuildTopOvercycleTotals(accum []domain.CumulativeAnchor) TopPayload {
	sorted := append([]domain.CumulativeAnchor(nil), accum...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].IncOverCnt != sorted[j].IncOverCnt {
			return sorted[i].IncOverCnt > sorted[j].IncOverCnt
		}
		if sorted[i].IncOverSec != sorted[j].IncOverSec {
			return sorted[i].IncOverSec > sorted[j].IncOverSec
		}
		return sorted[i].StationID < sorted[j].StationID
	})
	return toTop(sorted, func(a domain.CumulativeAnchor) string { return itoa(a.IncOverCnt) })
}

func toTop(sorted []domain.CumulativeAnchor, val func(domain.CumulativeAnchor) string) TopPayload {
	n := len(sorted)
	if n > MaxTop {
		n = MaxTop
	}
	var entries []TopEntry
	for i := 0; i < n; i++ {
		entries = append(entries, TopEntry{ID: i + 1, StnID: sorted[i].StationID, Value: val(sorted[i])})
	}
	return TopPayload{Overcycles: entries}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
