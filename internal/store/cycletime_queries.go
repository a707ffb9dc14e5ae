package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/magnaline/productiontelemetry/internal/domain"
)

// CtSegmentUpsertOnChange is the §6 `ctSegmentUpsertOnChange` write:
// segments never overlap and have strictly increasing effective_from_utc
// per station (§5), so this is a plain insert guarded by the primary key
// rather than an update-in-place.
func (s *Store) CtSegmentUpsertOnChange(ctx context.Context, seg domain.CTSegment) (Kind, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.ct_segments
			(station_id, effective_from_utc, ct_eff_sec, fixtures_per_side, is_turntable,
			 parallelism_factor, parts_json, ct_mode, overcycle_multiplier)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (station_id, effective_from_utc) DO UPDATE SET
			ct_eff_sec = EXCLUDED.ct_eff_sec,
			fixtures_per_side = EXCLUDED.fixtures_per_side,
			is_turntable = EXCLUDED.is_turntable,
			parallelism_factor = EXCLUDED.parallelism_factor,
			parts_json = EXCLUDED.parts_json,
			ct_mode = EXCLUDED.ct_mode,
			overcycle_multiplier = EXCLUDED.overcycle_multiplier
	`, seg.StationID, seg.EffectiveFromUTC, seg.CTEffSec, seg.FixturesPerSide, seg.IsTurntable,
		seg.ParallelismFactor, seg.PartsJSON, string(seg.CTMode), seg.OvercycleMultiplier)
	return classify(err)
}

// GetCtSegmentsForStationBetween is the §6
// `getCtSegmentsForStationBetween` read, used by the Overcycle Engine to
// resolve CT-at-ts (§4.6) and by the repair pass.
func (s *Store) GetCtSegmentsForStationBetween(ctx context.Context, stationID string, start, end time.Time) ([]domain.CTSegment, Kind, error) {
	// One extra prior segment is included so a lookup at `start` can still
	// resolve to the segment opened before the window (§3 CT Segment lookup).
	rows, err := s.db.Query(ctx, `
		(SELECT station_id, effective_from_utc, ct_eff_sec, fixtures_per_side, is_turntable,
		        parallelism_factor, parts_json, ct_mode, overcycle_multiplier
		 FROM telemetry.ct_segments
		 WHERE station_id = $1 AND effective_from_utc < $2
		 ORDER BY effective_from_utc DESC LIMIT 1)
		UNION ALL
		(SELECT station_id, effective_from_utc, ct_eff_sec, fixtures_per_side, is_turntable,
		        parallelism_factor, parts_json, ct_mode, overcycle_multiplier
		 FROM telemetry.ct_segments
		 WHERE station_id = $1 AND effective_from_utc >= $2 AND effective_from_utc < $3
		 ORDER BY effective_from_utc)
	`, stationID, start, end)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.CTSegment, error) {
		var seg domain.CTSegment
		var mode string
		err := r.Scan(&seg.StationID, &seg.EffectiveFromUTC, &seg.CTEffSec, &seg.FixturesPerSide,
			&seg.IsTurntable, &seg.ParallelismFactor, &seg.PartsJSON, &mode, &seg.OvercycleMultiplier)
		seg.CTMode = domain.CTMode(mode)
		return seg, err
	})
	if err != nil {
		return nil, KindStoreError, err
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// UpsertHourlyTargetsBatch is the §6 `upsertHourlyTargetsBatch` write.
func (s *Store) UpsertHourlyTargetsBatch(ctx context.Context, rows []domain.BaseTargetRow) (Kind, error) {
	if len(rows) == 0 {
		return KindEmpty, nil
	}
	stationIDs := make([]string, len(rows))
	hourStarts := make([]time.Time, len(rows))
	targets := make([]int64, len(rows))
	for i, r := range rows {
		stationIDs[i] = r.StationID
		hourStarts[i] = *r.HourStartUTC
		targets[i] = r.TargetPartsBase
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.hourly_targets (station_id, hour_start, target_parts_base, updated_at)
		SELECT u.station_id, u.hour_start, u.target_parts_base, NOW()
		FROM UNNEST($1::text[], $2::timestamptz[], $3::bigint[]) AS u(station_id, hour_start, target_parts_base)
		ON CONFLICT (station_id, hour_start) DO UPDATE SET
			target_parts_base = EXCLUDED.target_parts_base, updated_at = NOW()
	`, stationIDs, hourStarts, targets)
	return classify(err)
}

// UpsertShiftTargetsBatch is the §6 `upsertShiftTargetsBatch` write.
func (s *Store) UpsertShiftTargetsBatch(ctx context.Context, rows []domain.BaseTargetRow) (Kind, error) {
	if len(rows) == 0 {
		return KindEmpty, nil
	}
	stationIDs := make([]string, len(rows))
	shiftIDs := make([]string, len(rows))
	shiftDates := make([]string, len(rows))
	targets := make([]int64, len(rows))
	for i, r := range rows {
		stationIDs[i] = r.StationID
		shiftIDs[i] = r.ShiftID
		shiftDates[i] = r.ShiftDate
		targets[i] = r.TargetPartsBase
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.shift_targets (station_id, shift_id, shift_date, target_parts_base, updated_at)
		SELECT u.station_id, u.shift_id, u.shift_date::date, u.target_parts_base, NOW()
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::bigint[]) AS u(station_id, shift_id, shift_date, target_parts_base)
		ON CONFLICT (station_id, shift_id, shift_date) DO UPDATE SET
			target_parts_base = EXCLUDED.target_parts_base, updated_at = NOW()
	`, stationIDs, shiftIDs, shiftDates, targets)
	return classify(err)
}

// MissingTargetRow names a station/window pair whose target_parts_base is
// absent, for the repair pass (§4.5 "Repair pass").
type MissingTargetRow struct {
	StationID string
	HourStart *time.Time
	ShiftID   string
	ShiftDate string
}

// GetHourlyRowsMissingTargets finds hourly rollup rows in the last
// lookbackHours with no matching hourly_targets row.
func (s *Store) GetHourlyRowsMissingTargets(ctx context.Context, lookbackHours int) ([]MissingTargetRow, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT h.station_id, h.hour_start
		FROM telemetry.hourly_rollup h
		LEFT JOIN telemetry.hourly_targets t
			ON t.station_id = h.station_id AND t.hour_start = h.hour_start
		WHERE t.station_id IS NULL
		  AND h.hour_start >= NOW() - make_interval(hours => $1)`, lookbackHours)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []MissingTargetRow
	for rows.Next() {
		var r MissingTargetRow
		var hs time.Time
		if err := rows.Scan(&r.StationID, &hs); err != nil {
			return nil, KindStoreError, err
		}
		r.HourStart = &hs
		out = append(out, r)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// GetShiftRowsMissingTargets finds shift rollup rows in the last
// lookbackDays with no matching shift_targets row.
func (s *Store) GetShiftRowsMissingTargets(ctx context.Context, lookbackDays int) ([]MissingTargetRow, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT h.station_id, h.shift_id, h.shift_date
		FROM telemetry.shift_rollup h
		LEFT JOIN telemetry.shift_targets t
			ON t.station_id = h.station_id AND t.shift_id = h.shift_id AND t.shift_date = h.shift_date
		WHERE t.station_id IS NULL
		  AND h.shift_date >= (NOW() - make_interval(days => $1))::date`, lookbackDays)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []MissingTargetRow
	for rows.Next() {
		var r MissingTargetRow
		var d time.Time
		if err := rows.Scan(&r.StationID, &r.ShiftID, &d); err != nil {
			return nil, KindStoreError, err
		}
		r.ShiftDate = d.Format("2006-01-02")
		out = append(out, r)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}
