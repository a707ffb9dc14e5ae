package store

import (
	"context"
	"time"

	"github.com/magnaline/productiontelemetry/internal/domain"
)

// UpsertHourlyBatch is the §6 `upsertHourlyBatch` write: a single
// multi-row UPSERT via UNNEST, generalizing the teacher's bulk-block-insert
// idiom (postgres_ingest.go's UNNEST($1::bigint[], ...) block) to rollup
// rows. Idempotent: re-applying the same batch is a no-op (P7), except
// that a closed row's total_parts is never regressed once closed (P1).
func (s *Store) UpsertHourlyBatch(ctx context.Context, rows []domain.RollupRow) (Kind, error) {
	if len(rows) == 0 {
		return KindEmpty, nil
	}
	stationIDs := make([]string, len(rows))
	lineIDs := make([]string, len(rows))
	hourStarts := make([]time.Time, len(rows))
	totals := make([]int64, len(rows))
	startCounts := make([]*int64, len(rows))
	endCounts := make([]*int64, len(rows))
	closed := make([]bool, len(rows))

	for i, r := range rows {
		stationIDs[i] = r.StationID
		lineIDs[i] = r.LineID
		hourStarts[i] = r.AnchorTime
		totals[i] = r.TotalParts
		startCounts[i] = r.StartCount
		endCounts[i] = r.EndCount
		closed[i] = r.IsClosed
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.hourly_rollup
			(station_id, line_id, hour_start, total_parts, start_count, end_count, is_closed, updated_at)
		SELECT u.station_id, u.line_id, u.hour_start, u.total_parts, u.start_count, u.end_count, u.is_closed, NOW()
		FROM UNNEST($1::text[], $2::text[], $3::timestamptz[], $4::bigint[], $5::bigint[], $6::bigint[], $7::bool[])
			AS u(station_id, line_id, hour_start, total_parts, start_count, end_count, is_closed)
		ON CONFLICT (station_id, hour_start) DO UPDATE SET
			total_parts = CASE WHEN telemetry.hourly_rollup.is_closed THEN telemetry.hourly_rollup.total_parts ELSE EXCLUDED.total_parts END,
			end_count   = CASE WHEN telemetry.hourly_rollup.is_closed THEN telemetry.hourly_rollup.end_count ELSE EXCLUDED.end_count END,
			is_closed   = telemetry.hourly_rollup.is_closed OR EXCLUDED.is_closed,
			updated_at  = NOW()
	`, stationIDs, lineIDs, hourStarts, totals, startCounts, endCounts, closed)
	return classify(err)
}

// UpsertShiftBatch is the §6 `upsertShiftBatch` write.
func (s *Store) UpsertShiftBatch(ctx context.Context, rows []domain.RollupRow) (Kind, error) {
	if len(rows) == 0 {
		return KindEmpty, nil
	}
	stationIDs := make([]string, len(rows))
	lineIDs := make([]string, len(rows))
	shiftIDs := make([]string, len(rows))
	shiftDates := make([]string, len(rows))
	totals := make([]int64, len(rows))
	startCounts := make([]*int64, len(rows))
	endCounts := make([]*int64, len(rows))
	closed := make([]bool, len(rows))

	for i, r := range rows {
		stationIDs[i] = r.StationID
		lineIDs[i] = r.LineID
		shiftIDs[i] = r.ShiftID
		shiftDates[i] = r.AnchorTime.Format("2006-01-02")
		totals[i] = r.TotalParts
		startCounts[i] = r.StartCount
		endCounts[i] = r.EndCount
		closed[i] = r.IsClosed
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.shift_rollup
			(station_id, line_id, shift_id, shift_date, total_parts, start_count, end_count, is_closed, updated_at)
		SELECT u.station_id, u.line_id, u.shift_id, u.shift_date::date, u.total_parts, u.start_count, u.end_count, u.is_closed, NOW()
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::bigint[], $6::bigint[], $7::bigint[], $8::bool[])
			AS u(station_id, line_id, shift_id, shift_date, total_parts, start_count, end_count, is_closed)
		ON CONFLICT (station_id, shift_id, shift_date) DO UPDATE SET
			total_parts = CASE WHEN telemetry.shift_rollup.is_closed THEN telemetry.shift_rollup.total_parts ELSE EXCLUDED.total_parts END,
			end_count   = CASE WHEN telemetry.shift_rollup.is_closed THEN telemetry.shift_rollup.end_count ELSE EXCLUDED.end_count END,
			is_closed   = telemetry.shift_rollup.is_closed OR EXCLUDED.is_closed,
			updated_at  = NOW()
	`, stationIDs, lineIDs, shiftIDs, shiftDates, totals, startCounts, endCounts, closed)
	return classify(err)
}

// UpsertWeeklyBatch is the §6 `upsertWeeklyBatch` write.
func (s *Store) UpsertWeeklyBatch(ctx context.Context, rows []domain.RollupRow) (Kind, error) {
	if len(rows) == 0 {
		return KindEmpty, nil
	}
	stationIDs := make([]string, len(rows))
	lineIDs := make([]string, len(rows))
	weekStarts := make([]string, len(rows))
	totals := make([]int64, len(rows))
	closed := make([]bool, len(rows))

	for i, r := range rows {
		stationIDs[i] = r.StationID
		lineIDs[i] = r.LineID
		weekStarts[i] = r.AnchorTime.Format("2006-01-02")
		totals[i] = r.TotalParts
		closed[i] = r.IsClosed
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.weekly_rollup (station_id, line_id, week_start, total_parts, is_closed, updated_at)
		SELECT u.station_id, u.line_id, u.week_start::date, u.total_parts, u.is_closed, NOW()
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::bigint[], $5::bool[])
			AS u(station_id, line_id, week_start, total_parts, is_closed)
		ON CONFLICT (station_id, week_start) DO UPDATE SET
			total_parts = CASE WHEN telemetry.weekly_rollup.is_closed THEN telemetry.weekly_rollup.total_parts ELSE EXCLUDED.total_parts END,
			is_closed   = telemetry.weekly_rollup.is_closed OR EXCLUDED.is_closed,
			updated_at  = NOW()
	`, stationIDs, lineIDs, weekStarts, totals, closed)
	return classify(err)
}

// GetHourlyRowsToPublish is the §6 `getHourlyRowsToPublish` read: open or
// recently-closed rows not yet published, within the lookback/catchup
// windows (HOURLY_PUBLISH_LOOKBACK_HRS / HOURLY_CATCHUP_CLOSED_HRS).
func (s *Store) GetHourlyRowsToPublish(ctx context.Context, lookbackHours, catchupHours int) ([]domain.RollupRow, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.station_id, r.line_id, r.hour_start, r.total_parts, r.start_count, r.end_count, r.is_closed,
		       COALESCE(t.target_parts_base, 0)
		FROM telemetry.hourly_rollup r
		LEFT JOIN telemetry.hourly_targets t
		  ON t.station_id = r.station_id AND t.hour_start = r.hour_start
		WHERE r.is_published = FALSE
		  AND (
		        (r.is_closed = FALSE AND r.hour_start >= NOW() - make_interval(hours => $1))
		     OR (r.is_closed = TRUE  AND r.hour_start >= NOW() - make_interval(hours => $2))
		  )`, lookbackHours, catchupHours)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.RollupRow
	for rows.Next() {
		var r domain.RollupRow
		if err := rows.Scan(&r.StationID, &r.LineID, &r.AnchorTime, &r.TotalParts, &r.StartCount, &r.EndCount, &r.IsClosed, &r.TargetPartsBase); err != nil {
			return nil, KindStoreError, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// MarkHourlyPublished is the §6 `markHourlyPublished` write.
func (s *Store) MarkHourlyPublished(ctx context.Context, stationID string, hourStart time.Time) (Kind, error) {
	_, err := s.db.Exec(ctx, `
		UPDATE telemetry.hourly_rollup SET is_published = TRUE
		WHERE station_id = $1 AND hour_start = $2`, stationID, hourStart)
	return classify(err)
}

// GetEndedShiftRowsToPublish is the §6 `getEndedShiftRowsToPublish` read.
func (s *Store) GetEndedShiftRowsToPublish(ctx context.Context, day0, day1 string) ([]domain.RollupRow, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.station_id, r.line_id, r.shift_id, r.shift_date, r.total_parts, r.start_count, r.end_count, r.is_closed,
		       COALESCE(t.target_parts_base, 0)
		FROM telemetry.shift_rollup r
		LEFT JOIN telemetry.shift_targets t
		  ON t.station_id = r.station_id AND t.shift_id = r.shift_id AND t.shift_date = r.shift_date
		WHERE r.is_published = FALSE AND r.is_closed = TRUE
		  AND r.shift_date BETWEEN $1::date AND $2::date`, day0, day1)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.RollupRow
	for rows.Next() {
		var r domain.RollupRow
		var shiftDate time.Time
		if err := rows.Scan(&r.StationID, &r.LineID, &r.ShiftID, &shiftDate, &r.TotalParts, &r.StartCount, &r.EndCount, &r.IsClosed, &r.TargetPartsBase); err != nil {
			return nil, KindStoreError, err
		}
		r.AnchorTime = shiftDate
		out = append(out, r)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// MarkShiftPublished is the §6 `markShiftPublished` write.
func (s *Store) MarkShiftPublished(ctx context.Context, stationID, shiftID, shiftDate string) (Kind, error) {
	_, err := s.db.Exec(ctx, `
		UPDATE telemetry.shift_rollup SET is_published = TRUE
		WHERE station_id = $1 AND shift_id = $2 AND shift_date = $3::date`, stationID, shiftID, shiftDate)
	return classify(err)
}

// GetWeeklyRowsToPublish is the §6 `getWeeklyRowsToPublish` read.
func (s *Store) GetWeeklyRowsToPublish(ctx context.Context, now time.Time) ([]domain.RollupRow, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT station_id, line_id, week_start, total_parts, is_closed
		FROM telemetry.weekly_rollup
		WHERE is_published = FALSE AND week_start <= $1::date`, now.Format("2006-01-02"))
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.RollupRow
	for rows.Next() {
		var r domain.RollupRow
		if err := rows.Scan(&r.StationID, &r.LineID, &r.AnchorTime, &r.TotalParts, &r.IsClosed); err != nil {
			return nil, KindStoreError, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// MarkWeeklyPublished is the §6 `markWeeklyPublished` write.
func (s *Store) MarkWeeklyPublished(ctx context.Context, stationID, weekStart string) (Kind, error) {
	_, err := s.db.Exec(ctx, `
		UPDATE telemetry.weekly_rollup SET is_published = TRUE
		WHERE station_id = $1 AND week_start = $2::date`, stationID, weekStart)
	return classify(err)
}
