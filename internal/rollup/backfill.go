package rollup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/clockutil"
	"github.com/magnaline/productiontelemetry/internal/domain"
)

// BootstrapDay runs the once-per-local-day dense bootstrap (§4.4): every
// closed hour of today and every shift scheduled today up to now gets an
// upserted row per station, even stations with zero production.
func (e *Engine) BootstrapDay(ctx context.Context, date time.Time) error {
	stations, err := e.stations.Stations(ctx)
	if err != nil {
		return err
	}
	idx := e.calendar.Current()
	if idx == nil {
		return nil
	}
	now := e.now()
	midnight := clockutil.MidnightLocal(date, e.loc).UTC()
	topOfHour := clockutil.FloorHourUTC(now)

	var hourly []domain.RollupRow
	for h := midnight; h.Before(topOfHour); h = h.Add(time.Hour) {
		end := h.Add(time.Hour)
		for _, st := range stations {
			total := e.deltaOrZero(ctx, st, h, end, 0)
			startCount := e.anchorOrLive(ctx, st, h, 0)
			endCount := e.anchorOrLive(ctx, st, end, 0)
			hourly = append(hourly, domain.RollupRow{
				StationID: st.StationID, LineID: st.LineID, AnchorTime: h,
				TotalParts: total, StartCount: ptr(startCount), EndCount: ptr(endCount), IsClosed: true,
			})
		}
	}

	var shiftRows []domain.RollupRow
	for _, st := range stations {
		for _, sw := range idx.ShiftsOnLine(st.LineID) {
			if sw.ShiftLocalDate != clockutil.LocalDateString(date, e.loc) {
				continue
			}
			if sw.Start.After(now) {
				continue
			}
			closed := !sw.End.After(now)
			endBound := sw.End
			if !closed {
				endBound = now
			}
			total := e.deltaOrZero(ctx, st, sw.Start, endBound, 0)
			startCount := e.anchorOrLive(ctx, st, sw.Start, 0)
			row := domain.RollupRow{
				StationID: st.StationID, LineID: st.LineID, ShiftID: sw.ShiftID,
				AnchorTime: parseLocalDate(sw.ShiftLocalDate, e.loc), TotalParts: total,
				StartCount: ptr(startCount), IsClosed: closed,
			}
			if closed {
				endCount := e.anchorOrLive(ctx, st, sw.End, 0)
				row.EndCount = ptr(endCount)
			}
			shiftRows = append(shiftRows, row)
		}
	}

	e.flush(ctx, hourly, shiftRows, nil)
	return nil
}

// BackfillDayDense recomputes every hour and shift of a past day from the
// historian and upserts dense rows, chunked to bound memory (§4.4
// "Back-fill contract"). With writeZeroOnNoData false, stations without a
// historian tag get no hourly rows; a tagged station whose hour has no
// samples still gets a zero row, and shift rows are written for every
// station regardless of the flag. chunkSize counts rows per upsert.
func (e *Engine) BackfillDayDense(ctx context.Context, date time.Time, writeZeroOnNoData bool, chunkSize int) error {
	stations, err := e.stations.Stations(ctx)
	if err != nil {
		return err
	}
	idx := e.calendar.Current()
	if idx == nil {
		return nil
	}
	midnight := clockutil.MidnightLocal(date, e.loc).UTC()
	nextMidnight := midnight.Add(24 * time.Hour)

	var hourly []domain.RollupRow
	for h := midnight; h.Before(nextMidnight); h = h.Add(time.Hour) {
		end := h.Add(time.Hour)
		for _, st := range stations {
			if !st.HasTag() && !writeZeroOnNoData {
				continue
			}
			total := e.deltaOrZero(ctx, st, h, end, 0)
			startCount := e.anchorOrLive(ctx, st, h, 0)
			endCount := e.anchorOrLive(ctx, st, end, 0)
			hourly = append(hourly, domain.RollupRow{
				StationID: st.StationID, LineID: st.LineID, AnchorTime: h,
				TotalParts: total, StartCount: ptr(startCount), EndCount: ptr(endCount), IsClosed: true,
			})
			if len(hourly) >= chunkSize {
				if _, err := e.store.UpsertHourlyBatch(ctx, hourly); err != nil {
					e.log.Error("backfill: upsert hourly chunk failed", zap.Error(err))
				}
				hourly = hourly[:0]
			}
		}
	}
	if len(hourly) > 0 {
		if _, err := e.store.UpsertHourlyBatch(ctx, hourly); err != nil {
			e.log.Error("backfill: upsert hourly chunk failed", zap.Error(err))
		}
	}

	var shiftRows []domain.RollupRow
	dateStr := clockutil.LocalDateString(date, e.loc)
	for _, st := range stations {
		for _, sw := range idx.ShiftsOnLine(st.LineID) {
			if sw.ShiftLocalDate != dateStr {
				continue
			}
			total := e.deltaOrZero(ctx, st, sw.Start, sw.End, 0)
			startCount := e.anchorOrLive(ctx, st, sw.Start, 0)
			endCount := e.anchorOrLive(ctx, st, sw.End, 0)
			shiftRows = append(shiftRows, domain.RollupRow{
				StationID: st.StationID, LineID: st.LineID, ShiftID: sw.ShiftID,
				AnchorTime: parseLocalDate(sw.ShiftLocalDate, e.loc), TotalParts: total,
				StartCount: ptr(startCount), EndCount: ptr(endCount), IsClosed: true,
			})
			if len(shiftRows) >= chunkSize {
				if _, err := e.store.UpsertShiftBatch(ctx, shiftRows); err != nil {
					e.log.Error("backfill: upsert shift chunk failed", zap.Error(err))
				}
				shiftRows = shiftRows[:0]
			}
		}
	}
	if len(shiftRows) > 0 {
		if _, err := e.store.UpsertShiftBatch(ctx, shiftRows); err != nil {
			e.log.Error("backfill: upsert shift chunk failed", zap.Error(err))
		}
	}

	return nil
}
