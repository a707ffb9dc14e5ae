package cycletime

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// RepairPass recomputes target_parts_base for rows the repair queries
// find missing in the lookback window and re-upserts them (§4.5 "Repair
// pass"). The source calls the hourly repair upsert twice per tick as a
// documented, idempotent safeguard; this keeps that shape rather than
// collapsing it to a single call.
func (e *Engine) RepairPass(ctx context.Context, lookbackHours, lookbackDays int, lineByStation map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("cycletime repair panic recovered", zap.Any("panic", r))
		}
	}()

	idx := e.calendar.Current()
	if idx == nil {
		return
	}

	missingHourly, _, err := e.store.GetHourlyRowsMissingTargets(ctx, lookbackHours)
	if err != nil {
		e.log.Error("cycletime: repair hourly query failed", zap.Error(err))
	} else if len(missingHourly) > 0 {
		rows := e.recomputeHourly(missingHourly, lineByStation, idx)
		if len(rows) > 0 {
			for i := 0; i < 2; i++ { // intentional double-upsert safeguard, idempotent
				if _, err := e.store.UpsertHourlyTargetsBatch(ctx, rows); err != nil {
					e.log.Error("cycletime: repair hourly upsert failed", zap.Error(err))
				}
			}
		}
	}

	missingShift, _, err := e.store.GetShiftRowsMissingTargets(ctx, lookbackDays)
	if err != nil {
		e.log.Error("cycletime: repair shift query failed", zap.Error(err))
		return
	}
	if len(missingShift) == 0 {
		return
	}
	shiftRows := e.recomputeShift(missingShift, lineByStation, idx)
	if len(shiftRows) > 0 {
		if _, err := e.store.UpsertShiftTargetsBatch(ctx, shiftRows); err != nil {
			e.log.Error("cycletime: repair shift upsert failed", zap.Error(err))
		}
	}
}

func (e *Engine) recomputeHourly(rows []store.MissingTargetRow, lineByStation map[string]string, idx *shiftcalendar.Index) []domain.BaseTargetRow {
	var out []domain.BaseTargetRow
	for _, r := range rows {
		if r.HourStart == nil {
			continue
		}
		tr, ok := e.track[r.StationID]
		if !ok || tr.current.CTEffSec <= 0 {
			continue
		}
		line := lineByStation[r.StationID]
		hourEnd := r.HourStart.Add(time.Hour)
		target := int64(math.Floor(idx.WorkingMs(*r.HourStart, hourEnd, line).Seconds() / tr.current.CTEffSec))
		hs := *r.HourStart
		out = append(out, domain.BaseTargetRow{StationID: r.StationID, HourStartUTC: &hs, TargetPartsBase: target})
	}
	return out
}

func (e *Engine) recomputeShift(rows []store.MissingTargetRow, lineByStation map[string]string, idx *shiftcalendar.Index) []domain.BaseTargetRow {
	var out []domain.BaseTargetRow
	for _, r := range rows {
		tr, ok := e.track[r.StationID]
		if !ok || tr.current.CTEffSec <= 0 {
			continue
		}
		line := lineByStation[r.StationID]
		var sw *domain.ShiftWindow
		for _, w := range idx.ShiftsOnLine(line) {
			if w.ShiftID == r.ShiftID && w.ShiftLocalDate == r.ShiftDate {
				ww := w
				sw = &ww
				break
			}
		}
		if sw == nil {
			continue
		}
		target := int64(math.Floor(idx.WorkingMs(sw.Start, sw.End, line).Seconds() / tr.current.CTEffSec))
		out = append(out, domain.BaseTargetRow{StationID: r.StationID, ShiftID: r.ShiftID, ShiftDate: r.ShiftDate, TargetPartsBase: target})
	}
	return out
}
