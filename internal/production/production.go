// Package production implements the Production Publisher (§6): turns
// pending hourly/shift/weekly rollup rows into the bit-exact
// HourlyProduction / ShiftProduction / ProductionWeekly broker payloads,
// computing the break-aware LiveTarget (P5) and BucketID along the way,
// then marks each row published.
package production

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/clockutil"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// CalendarSource supplies the current break/shift index (§5 "Shared state").
type CalendarSource interface {
	Current() *shiftcalendar.Index
}

// Store is the subset of store.Store the Production Publisher calls.
type Store interface {
	GetHourlyRowsToPublish(ctx context.Context, lookbackHours, catchupHours int) ([]domain.RollupRow, store.Kind, error)
	MarkHourlyPublished(ctx context.Context, stationID string, hourStart time.Time) (store.Kind, error)
	GetEndedShiftRowsToPublish(ctx context.Context, day0, day1 string) ([]domain.RollupRow, store.Kind, error)
	MarkShiftPublished(ctx context.Context, stationID, shiftID, shiftDate string) (store.Kind, error)
	GetWeeklyRowsToPublish(ctx context.Context, now time.Time) ([]domain.RollupRow, store.Kind, error)
	MarkWeeklyPublished(ctx context.Context, stationID, weekStart string) (store.Kind, error)
	GetHierarchyForStations(ctx context.Context, stationIDs []string) ([]store.HierarchyNames, store.Kind, error)
}

// Publisher is the subset of broker.Client the engine calls.
type Publisher interface {
	PublishScoped(ctx context.Context, lineID, scopeSlug string, qos byte, retain bool, payload any) error
}

// Engine publishes pending production rows on each tick.
type Engine struct {
	store        Store
	calendar     CalendarSource
	publisher    Publisher
	log          *zap.Logger
	loc          *time.Location
	lookbackHrs  int
	catchupHrs   int
}

// New builds a Production Publisher.
func New(st Store, calendar CalendarSource, pub Publisher, log *zap.Logger, loc *time.Location, lookbackHrs, catchupHrs int) *Engine {
	return &Engine{store: st, calendar: calendar, publisher: pub, log: log, loc: loc, lookbackHrs: lookbackHrs, catchupHrs: catchupHrs}
}

// Tick runs one publish pass over hourly, shift, and weekly rows pending
// publication (§6 "publish_pending").
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("production tick panic recovered", zap.Any("panic", r))
		}
	}()

	e.publishHourly(ctx, now)
	e.publishShifts(ctx, now)
	e.publishWeekly(ctx, now)
}

func (e *Engine) publishHourly(ctx context.Context, now time.Time) {
	rows, kind, err := e.store.GetHourlyRowsToPublish(ctx, e.lookbackHrs, e.catchupHrs)
	if err != nil || kind == store.KindStoreError {
		e.log.Error("production: hourly rows unavailable", zap.Error(err)) // StoreUnavailable: skip
		return
	}
	idx := e.calendar.Current()
	for _, r := range rows {
		hourStart := r.AnchorTime
		hourEnd := hourStart.Add(time.Hour)

		liveTarget := int64(0)
		if !r.IsClosed && r.TargetPartsBase > 0 && idx != nil {
			liveTarget = liveTargetFromWindow(idx, hourStart, hourEnd, now, r.LineID, r.TargetPartsBase)
		}

		local := hourStart.In(e.loc)
		body := map[string]any{
			"ProductionDate": local.Format("2006-01-02") + "T00:00:00",
			"ProductionHour": local.Format("15") + ":00",
			"Actual":         r.TotalParts,
			"HourlyTarget":   r.TargetPartsBase,
			"LiveTarget":     liveTarget,
			"BucketID":       local.Hour(),
		}
		if err := e.publisher.PublishScoped(ctx, r.LineID, "HourlyProduction", 0, false, envelope("HourlyProduction", body, now)); err != nil {
			e.log.Warn("production: hourly publish failed", zap.String("station_id", r.StationID), zap.Error(err)) // BrokerUnavailable: next tick retries
			continue
		}
		if r.IsClosed {
			if _, err := e.store.MarkHourlyPublished(ctx, r.StationID, r.AnchorTime); err != nil {
				e.log.Error("production: mark hourly published failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) publishShifts(ctx context.Context, now time.Time) {
	yday := clockutil.LocalDateString(now.Add(-24*time.Hour), e.loc)
	today := clockutil.LocalDateString(now, e.loc)
	rows, kind, err := e.store.GetEndedShiftRowsToPublish(ctx, yday, today)
	if err != nil || kind == store.KindStoreError {
		e.log.Error("production: shift rows unavailable", zap.Error(err))
		return
	}
	idx := e.calendar.Current()
	for _, r := range rows {
		shiftDate := clockutil.LocalDateString(r.AnchorTime, e.loc)

		// Ended shift rows always publish LiveTarget=0 (the row is only
		// selected once its shift has closed); BucketID anchors to the
		// shift's end time when the calendar still has it on hand.
		bucketID := 0
		if idx != nil {
			if sw, ok := idx.FindShift(r.LineID, r.ShiftID, shiftDate); ok {
				anchor := now
				if sw.End.Before(anchor) {
					anchor = sw.End
				}
				anchor = anchor.Add(-time.Second)
				if anchor.Before(sw.Start) {
					anchor = sw.Start
				}
				bucketID = anchor.In(e.loc).Hour()
			}
		}

		body := map[string]any{
			"ProductionDate":   shiftDate + "T00:00:00",
			"Actual":           r.TotalParts,
			"ProductionTarget": r.TargetPartsBase,
			"LiveTarget":       int64(0),
			"BucketID":         bucketID,
		}
		if err := e.publisher.PublishScoped(ctx, r.LineID, "ShiftProduction", 0, false, envelope("ShiftProduction", body, now)); err != nil {
			e.log.Warn("production: shift publish failed", zap.String("station_id", r.StationID), zap.Error(err))
			continue
		}
		if _, err := e.store.MarkShiftPublished(ctx, r.StationID, r.ShiftID, shiftDate); err != nil {
			e.log.Error("production: mark shift published failed", zap.Error(err))
		}
	}
}

func (e *Engine) publishWeekly(ctx context.Context, now time.Time) {
	rows, kind, err := e.store.GetWeeklyRowsToPublish(ctx, now)
	if err != nil || kind == store.KindStoreError {
		e.log.Error("production: weekly rows unavailable", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	names := e.stationNames(ctx, rows)
	for _, r := range rows {
		name := names[r.StationID]
		if name == "" {
			name = r.StationID
		}
		body := map[string]any{
			"Stn_ID": name,
			"Value":  r.TotalParts,
		}
		if err := e.publisher.PublishScoped(ctx, r.LineID, "ProductionWeekly", 0, false, envelope("ProductionWeekly", body, now)); err != nil {
			e.log.Warn("production: weekly publish failed", zap.String("station_id", r.StationID), zap.Error(err))
			// Weekly rows publish once and mark unconditionally, mirroring
			// the source: a dropped publish is logged but still marked so
			// the next tick doesn't resend a stale week total forever.
		}
		weekStart := clockutil.LocalDateString(r.AnchorTime, e.loc)
		if _, err := e.store.MarkWeeklyPublished(ctx, r.StationID, weekStart); err != nil {
			e.log.Error("production: mark weekly published failed", zap.Error(err))
		}
	}
}

func (e *Engine) stationNames(ctx context.Context, rows []domain.RollupRow) map[string]string {
	ids := make([]string, 0, len(rows))
	seen := map[string]struct{}{}
	for _, r := range rows {
		if _, ok := seen[r.StationID]; ok {
			continue
		}
		seen[r.StationID] = struct{}{}
		ids = append(ids, r.StationID)
	}
	hier, _, err := e.store.GetHierarchyForStations(ctx, ids)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(hier))
	for _, h := range hier {
		out[h.StationID] = h.StationName
	}
	return out
}

// liveTargetFromWindow computes the break-aware LiveTarget for a window
// [start,end) whose target is targetBase, capping elapsed time at end (§6,
// P5). Returns 0 if the window has no working time at all.
func liveTargetFromWindow(idx *shiftcalendar.Index, start, end, now time.Time, line string, targetBase int64) int64 {
	total := idx.WorkingMs(start, end, line)
	if total <= 0 {
		return 0
	}
	capAt := now
	if end.Before(capAt) {
		capAt = end
	}
	elapsed := idx.WorkingMs(start, capAt, line)
	frac := float64(elapsed) / float64(total)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return int64(math.Floor(float64(targetBase) * frac))
}

func envelope(key string, body any, now time.Time) map[string]any {
	return map[string]any{
		"Version":   1,
		"Timestamp": now.UTC().Format(time.RFC3339),
		key:         body,
	}
}
