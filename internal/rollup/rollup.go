// Package rollup implements the Production Rollup Engine (§4.4): per
// station hour/shift/week accumulation, anchored to historian snapshots,
// with dense daily bootstrap and late-arrival shift reconciliation.
package rollup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/clockutil"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

const (
	idleFlushInterval = 30 * time.Second
	finalGrace        = 18 * time.Hour
)

// LiveReader supplies the current counter value for a station; a
// non-ok quality means the station is skipped this tick (QualityBad §7).
type LiveReader interface {
	ReadCounters(ctx context.Context, stations []domain.Station) map[string]LiveSample
}

// LiveSample is one current observation of a station's TotalParts counter.
type LiveSample struct {
	Value   int64
	Good    bool
	SrcTime time.Time
}

// StationSource lists the stations this tick should cover.
type StationSource interface {
	Stations(ctx context.Context) ([]domain.Station, error)
}

// CalendarSource supplies the current break/shift index. The index is
// rebuilt by config.Calendar.Refresh on its own scheduled task; engine
// ticks only read the current snapshot and never trigger a refresh.
type CalendarSource interface {
	Current() *shiftcalendar.Index
}

// Store is the subset of store.Store the Rollup Engine calls.
type Store interface {
	UpsertHourlyBatch(ctx context.Context, rows []domain.RollupRow) (store.Kind, error)
	UpsertShiftBatch(ctx context.Context, rows []domain.RollupRow) (store.Kind, error)
	UpsertWeeklyBatch(ctx context.Context, rows []domain.RollupRow) (store.Kind, error)
}

// Engine owns the per-station live state map exclusively (§3 "Ownership").
type Engine struct {
	stations  StationSource
	calendar  CalendarSource
	historian *historian.Client
	live      LiveReader
	store     Store
	log       *zap.Logger
	loc       *time.Location
	weekDOW   int
	now       func() time.Time

	mu    sync.Mutex
	state map[string]*domain.StationLiveState
}

// New builds a Rollup Engine. now defaults to time.Now when nil, overridable in tests.
func New(stations StationSource, calendar CalendarSource, hist *historian.Client, live LiveReader, st Store, log *zap.Logger, loc *time.Location, weekDOW int, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		stations:  stations,
		calendar:  calendar,
		historian: hist,
		live:      live,
		store:     st,
		log:       log,
		loc:       loc,
		weekDOW:   weekDOW,
		now:       now,
		state:     map[string]*domain.StationLiveState{},
	}
}

// Tick runs one steady-state pass over all stations (§4.4 "Steady-state tick").
func (e *Engine) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rollup tick panic recovered", zap.Any("panic", r))
		}
	}()

	now := e.now()
	stations, err := e.stations.Stations(ctx)
	if err != nil {
		e.log.Error("rollup: station list unavailable", zap.Error(err))
		return
	}
	idx := e.calendar.Current()
	if idx == nil {
		e.log.Warn("rollup: no calendar index yet, skipping tick")
		return
	}
	samples := e.live.ReadCounters(ctx, stations)

	var hourly, shifts, weekly []domain.RollupRow
	for _, st := range stations {
		smp, ok := samples[st.StationID]
		if !ok || !smp.Good {
			continue // QualityBad: freeze state for this tick
		}
		e.mu.Lock()
		live, exists := e.state[st.StationID]
		if !exists {
			live = e.initState(ctx, st, idx, now, smp.Value)
			e.state[st.StationID] = live
		}
		h, s, w := e.advance(ctx, st, idx, live, now, smp.Value)
		e.mu.Unlock()

		hourly = append(hourly, h...)
		shifts = append(shifts, s...)
		weekly = append(weekly, w...)
	}

	e.flush(ctx, hourly, shifts, weekly)
}

// initState seeds a station's live state on first observation (§4.4 "State initialization").
func (e *Engine) initState(ctx context.Context, st domain.Station, idx *shiftcalendar.Index, now time.Time, curr int64) *domain.StationLiveState {
	hourStart := clockutil.FloorHourUTC(now)
	hourStartCount := e.anchorOrLive(ctx, st, hourStart, curr)
	hourTotal := e.deltaOrZero(ctx, st, hourStart, now, curr)

	live := &domain.StationLiveState{
		HourStartUTC:      hourStart,
		HourStartCount:    hourStartCount,
		HourTotal:         hourTotal,
		LastPeak:          curr,
		HourLastFlush:     now,
		WeekStartLocal:    clockutil.LocalDateString(clockutil.WeekStartLocal(now, e.loc, e.weekDOW), e.loc),
		PastShiftDoneKeys: map[string]struct{}{},
		Initialized:       true,
	}

	if sw, ok := idx.ActiveShift(st.LineID, now); ok {
		live.ShiftID = sw.ShiftID
		live.ShiftDate = sw.ShiftLocalDate
		live.ShiftStartCount = e.anchorOrLive(ctx, st, sw.Start, curr)
		live.ShiftTotal = e.deltaOrZero(ctx, st, sw.Start, now, curr)
	}

	weekStart := clockutil.WeekStartLocal(now, e.loc, e.weekDOW)
	live.WeekTotal = e.deltaOrZero(ctx, st, weekStart, now, curr)

	return live
}

func (e *Engine) anchorOrLive(ctx context.Context, st domain.Station, at time.Time, curr int64) int64 {
	if !st.HasTag() {
		return curr
	}
	anchor, err := e.historian.Anchor(ctx, st.TagPath, at)
	if err != nil || anchor == nil {
		return curr
	}
	return int64(anchor.Value)
}

func (e *Engine) deltaOrZero(ctx context.Context, st domain.Station, start, end time.Time, liveFallback int64) int64 {
	if !st.HasTag() {
		return 0
	}
	d, err := e.historian.PositiveDelta(ctx, st.TagPath, start, end)
	if err != nil {
		return 0 // HistoryGap: treat as zero delta
	}
	return d
}

// advance runs steady-state steps 2-7 for one station and returns the rows to flush.
func (e *Engine) advance(ctx context.Context, st domain.Station, idx *shiftcalendar.Index, live *domain.StationLiveState, now time.Time, curr int64) (hourly, shifts, weekly []domain.RollupRow) {
	// Step 2: hour rollover.
	hourStart := clockutil.FloorHourUTC(now)
	if !hourStart.Equal(live.HourStartUTC) {
		endCount := live.LastPeak
		hourly = append(hourly, domain.RollupRow{
			StationID: st.StationID, LineID: st.LineID, AnchorTime: live.HourStartUTC,
			TotalParts: live.HourTotal, StartCount: ptr(live.HourStartCount), EndCount: ptr(endCount), IsClosed: true,
		})
		live.HourStartUTC = hourStart
		live.HourStartCount = e.anchorOrLive(ctx, st, hourStart, curr)
		live.HourTotal = 0
		live.HourLastFlush = now
	}

	// Step 3: reset-safe accumulation.
	if curr >= live.LastPeak {
		inc := curr - live.LastPeak
		live.HourTotal += inc
		live.ShiftTotal += inc
		live.WeekTotal += inc
		live.LastPeak = curr
	}

	// Step 4: idle flush.
	if now.Sub(live.HourLastFlush) >= idleFlushInterval {
		hourly = append(hourly, domain.RollupRow{
			StationID: st.StationID, LineID: st.LineID, AnchorTime: live.HourStartUTC,
			TotalParts: live.HourTotal, StartCount: ptr(live.HourStartCount), IsClosed: false,
		})
		live.HourLastFlush = now
	}

	// Step 5: shift transition.
	activeSW, hasActive := idx.ActiveShift(st.LineID, now)
	activeID, activeDate := "", ""
	if hasActive {
		activeID, activeDate = activeSW.ShiftID, activeSW.ShiftLocalDate
	}
	if activeID != live.ShiftID || activeDate != live.ShiftDate {
		if live.ShiftID != "" {
			shifts = append(shifts, domain.RollupRow{
				StationID: st.StationID, LineID: st.LineID, ShiftID: live.ShiftID,
				AnchorTime: parseLocalDate(live.ShiftDate, e.loc), TotalParts: live.ShiftTotal,
				StartCount: ptr(live.ShiftStartCount), EndCount: ptr(live.LastPeak), IsClosed: true,
			})
		}
		live.ShiftID, live.ShiftDate = activeID, activeDate
		if hasActive {
			live.ShiftStartCount = e.anchorOrLive(ctx, st, activeSW.Start, curr)
			live.ShiftTotal = e.deltaOrZero(ctx, st, activeSW.Start, now, curr)
		} else {
			live.ShiftStartCount, live.ShiftTotal = 0, 0
		}
	}
	if live.ShiftID != "" {
		shifts = append(shifts, domain.RollupRow{
			StationID: st.StationID, LineID: st.LineID, ShiftID: live.ShiftID,
			AnchorTime: parseLocalDate(live.ShiftDate, e.loc), TotalParts: live.ShiftTotal,
			StartCount: ptr(live.ShiftStartCount), IsClosed: false,
		})
	}

	// Step 6: week rollover.
	weekStart := clockutil.WeekStartLocal(now, e.loc, e.weekDOW)
	weekStartStr := clockutil.LocalDateString(weekStart, e.loc)
	if weekStartStr != live.WeekStartLocal {
		prevStart := parseLocalDate(live.WeekStartLocal, e.loc)
		weekly = append(weekly, domain.RollupRow{
			StationID: st.StationID, LineID: st.LineID, AnchorTime: prevStart,
			TotalParts: live.WeekTotal, IsClosed: true,
		})
		live.WeekStartLocal = weekStartStr
		live.WeekTotal = e.deltaOrZero(ctx, st, weekStart, now, curr)
	}
	weekly = append(weekly, domain.RollupRow{
		StationID: st.StationID, LineID: st.LineID, AnchorTime: parseLocalDate(live.WeekStartLocal, e.loc),
		TotalParts: live.WeekTotal, IsClosed: false,
	})

	// Step 7: late reconciliation of just-ended shifts within grace.
	if ended, ok := idx.LastEndedShift(st.LineID, now, finalGrace); ok {
		key := ended.ShiftID + "|" + ended.ShiftLocalDate
		if _, done := live.PastShiftDoneKeys[key]; !done {
			total := e.deltaOrZero(ctx, st, ended.Start, ended.End, curr)
			startCount := e.anchorOrLive(ctx, st, ended.Start, curr)
			endCount := e.anchorOrLive(ctx, st, ended.End, curr)
			shifts = append(shifts, domain.RollupRow{
				StationID: st.StationID, LineID: st.LineID, ShiftID: ended.ShiftID,
				AnchorTime: parseLocalDate(ended.ShiftLocalDate, e.loc), TotalParts: total,
				StartCount: ptr(startCount), EndCount: ptr(endCount), IsClosed: true,
			})
			live.PastShiftDoneKeys[key] = struct{}{}
		}
	}

	return hourly, shifts, weekly
}

func (e *Engine) flush(ctx context.Context, hourly, shifts, weekly []domain.RollupRow) {
	if len(hourly) > 0 {
		if _, err := e.store.UpsertHourlyBatch(ctx, hourly); err != nil {
			e.log.Error("rollup: upsert hourly batch failed", zap.Error(err))
		}
	}
	if len(shifts) > 0 {
		if _, err := e.store.UpsertShiftBatch(ctx, shifts); err != nil {
			e.log.Error("rollup: upsert shift batch failed", zap.Error(err))
		}
	}
	if len(weekly) > 0 {
		if _, err := e.store.UpsertWeeklyBatch(ctx, weekly); err != nil {
			e.log.Error("rollup: upsert weekly batch failed", zap.Error(err))
		}
	}
}

func ptr[T any](v T) *T { return &v }

func parseLocalDate(s string, loc *time.Location) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}
