package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/magnaline/productiontelemetry/internal/domain"
)

// GetActiveStationsForRollup is the §6 `getActiveStationsForRollup` read.
// criticalOnly restricts the result to is_critical stations; false returns
// every configured station.
func (s *Store) GetActiveStationsForRollup(ctx context.Context, criticalOnly bool) ([]domain.Station, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT station_id, line_id, area, subarea, line, station,
		       COALESCE(tag_path, ''), is_turntable, fixtures_per_side,
		       is_critical, parallelism_factor
		FROM telemetry.stations
		WHERE ($1 = FALSE OR is_critical = TRUE)
		ORDER BY station_id`, criticalOnly)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.Station
	for rows.Next() {
		var st domain.Station
		if err := rows.Scan(&st.StationID, &st.LineID, &st.Area, &st.Subarea, &st.Line, &st.Station,
			&st.TagPath, &st.IsTurntable, &st.FixturesPerSide, &st.IsCritical, &st.ParallelismFactor); err != nil {
			return nil, KindStoreError, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// GetPartCTsForStation is the §6 `getPartCTsForStation` read.
func (s *Store) GetPartCTsForStation(ctx context.Context, stationID string) ([]domain.PartCT, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT part_number, cycle_time_sec, overcycle_multiplier
		FROM telemetry.part_ct WHERE station_id = $1`, stationID)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.PartCT
	for rows.Next() {
		var p domain.PartCT
		if err := rows.Scan(&p.PartNumber, &p.CycleTimeSec, &p.OvercycleMultiplier); err != nil {
			return nil, KindStoreError, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// GetShiftScheduleOnDate is the §6 `getShiftScheduleOnDate` read.
func (s *Store) GetShiftScheduleOnDate(ctx context.Context, shiftDate string) ([]domain.ShiftWindow, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT line_id, shift_id, shift_date, start_time, end_time
		FROM telemetry.shift_schedule WHERE shift_date = $1::date`, shiftDate)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.ShiftWindow
	for rows.Next() {
		var w domain.ShiftWindow
		var d time.Time
		if err := rows.Scan(&w.LineID, &w.ShiftID, &d, &w.Start, &w.End); err != nil {
			return nil, KindStoreError, err
		}
		w.ShiftLocalDate = d.Format("2006-01-02")
		out = append(out, w)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// GetBreaksOnDate is the §6 `getBreaksOnDate` read.
func (s *Store) GetBreaksOnDate(ctx context.Context, shiftDate string) ([]domain.BreakSpan, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT line_id, start_time, end_time, is_active
		FROM telemetry.breaks WHERE shift_date = $1::date`, shiftDate)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	var out []domain.BreakSpan
	for rows.Next() {
		var b domain.BreakSpan
		if err := rows.Scan(&b.LineID, &b.Start, &b.End, &b.IsActive); err != nil {
			return nil, KindStoreError, err
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// HierarchyNames is one row of the §6 `getHierarchyForStations` read.
type HierarchyNames struct {
	StationID   string
	Division    string
	Plant       string
	Area        string
	Subarea     string
	Line        string
	StationName string
}

// GetHierarchyForStations is the §6 `getHierarchyForStations` read, used
// by the Broker Adapter's topic formatter (§4.8) and the Production
// Publisher's `ProductionWeekly.Stn_ID` field.
func (s *Store) GetHierarchyForStations(ctx context.Context, stationIDs []string) ([]HierarchyNames, Kind, error) {
	if len(stationIDs) == 0 {
		return nil, KindEmpty, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT station_id, '' AS division, '' AS plant, area, subarea, line, station
		FROM telemetry.stations WHERE station_id = ANY($1::text[])`, stationIDs)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (HierarchyNames, error) {
		var h HierarchyNames
		err := r.Scan(&h.StationID, &h.Division, &h.Plant, &h.Area, &h.Subarea, &h.Line, &h.StationName)
		return h, err
	})
	if err != nil {
		return nil, KindStoreError, err
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}
