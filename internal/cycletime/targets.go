package cycletime

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/clockutil"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
)

// emitTargets computes and, on change, emits hourly and shift base
// targets for one station (§4.5 "Base targets").
func (e *Engine) emitTargets(ctx context.Context, st domain.Station, tr *stationTrack, idx *shiftcalendar.Index, now time.Time) {
	if tr.current.CTEffSec <= 0 {
		return
	}

	hourStart := clockutil.FloorHourUTC(now)
	hourEnd := hourStart.Add(time.Hour)
	workingMs := idx.WorkingMs(hourStart, hourEnd, st.LineID)
	target := int64(math.Floor(workingMs.Seconds() / tr.current.CTEffSec))
	if last, ok := tr.lastHourEmit[hourStart]; !ok || last != target {
		tr.lastHourEmit = map[time.Time]int64{hourStart: target} // one live hour tracked at a time
		if _, err := e.store.UpsertHourlyTargetsBatch(ctx, []domain.BaseTargetRow{{
			StationID: st.StationID, HourStartUTC: &hourStart, TargetPartsBase: target,
		}}); err != nil {
			e.log.Error("cycletime: hourly target upsert failed", zap.Error(err))
		}
	}

	sw, ok := idx.ActiveShift(st.LineID, now)
	if !ok {
		return
	}
	swMs := idx.WorkingMs(sw.Start, sw.End, st.LineID)
	shiftTarget := int64(math.Floor(swMs.Seconds() / tr.current.CTEffSec))
	shiftKey := sw.ShiftID + "|" + sw.ShiftLocalDate
	if last, ok := tr.lastShiftEmit[shiftKey]; !ok || last != shiftTarget {
		tr.lastShiftEmit = map[string]int64{shiftKey: shiftTarget}
		if _, err := e.store.UpsertShiftTargetsBatch(ctx, []domain.BaseTargetRow{{
			StationID: st.StationID, ShiftID: sw.ShiftID, ShiftDate: sw.ShiftLocalDate, TargetPartsBase: shiftTarget,
		}}); err != nil {
			e.log.Error("cycletime: shift target upsert failed", zap.Error(err))
		}
	}
}
