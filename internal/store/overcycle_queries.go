package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/magnaline/productiontelemetry/internal/domain"
)

// UpsertSlotStationBatch is the §6 `upsertSlotStationBatch` write: the
// per-station cumulative overcycle anchor rows (§3 Cumulative Anchor).
// as_of_local is strictly non-decreasing within a shift (§5) — enforced
// here by only ever increasing it (a regression would be a caller bug and
// surfaces as a no-op write since GREATEST keeps the prior value).
func (s *Store) UpsertSlotStationBatch(ctx context.Context, anchors []domain.CumulativeAnchor) (Kind, error) {
	if len(anchors) == 0 {
		return KindEmpty, nil
	}
	lineIDs := make([]string, len(anchors))
	shiftIDs := make([]string, len(anchors))
	shiftDates := make([]string, len(anchors))
	stationIDs := make([]string, len(anchors))
	asOf := make([]time.Time, len(anchors))
	cnts := make([]int64, len(anchors))
	sums := make([]float64, len(anchors))
	maxes := make([]float64, len(anchors))
	slots := make([]float64, len(anchors))

	for i, a := range anchors {
		lineIDs[i] = a.LineID
		shiftIDs[i] = a.ShiftID
		shiftDates[i] = a.ShiftDate
		stationIDs[i] = a.StationID
		asOf[i] = a.AsOfLocal
		cnts[i] = a.IncOverCnt
		sums[i] = a.IncOverSec
		maxes[i] = a.IncMaxOverSec
		slots[i] = a.SlotDurationMin
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.overcycle_anchor
			(line_id, shift_id, shift_date, station_id, as_of_local, inc_over_cnt, inc_over_sec, inc_max_over_sec, slot_duration_min)
		SELECT u.line_id, u.shift_id, u.shift_date::date, u.station_id, u.as_of_local, u.inc_over_cnt, u.inc_over_sec, u.inc_max_over_sec, u.slot_duration_min
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[], $6::bigint[], $7::double precision[], $8::double precision[], $9::double precision[])
			AS u(line_id, shift_id, shift_date, station_id, as_of_local, inc_over_cnt, inc_over_sec, inc_max_over_sec, slot_duration_min)
		ON CONFLICT (line_id, shift_id, shift_date, station_id) DO UPDATE SET
			as_of_local = GREATEST(telemetry.overcycle_anchor.as_of_local, EXCLUDED.as_of_local),
			inc_over_cnt = telemetry.overcycle_anchor.inc_over_cnt + EXCLUDED.inc_over_cnt,
			inc_over_sec = telemetry.overcycle_anchor.inc_over_sec + EXCLUDED.inc_over_sec,
			inc_max_over_sec = GREATEST(telemetry.overcycle_anchor.inc_max_over_sec, EXCLUDED.inc_max_over_sec),
			slot_duration_min = EXCLUDED.slot_duration_min
	`, lineIDs, shiftIDs, shiftDates, stationIDs, asOf, cnts, sums, maxes, slots)
	return classify(err)
}

// GetShiftAccumForLine is the §6 `getShiftAccumForLine` read, the source
// for top-N leaderboard construction (§4.6 step 6).
func (s *Store) GetShiftAccumForLine(ctx context.Context, lineID, shiftID, shiftDate string) ([]domain.CumulativeAnchor, Kind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT line_id, shift_id, shift_date, station_id, as_of_local, inc_over_cnt, inc_over_sec, inc_max_over_sec, slot_duration_min
		FROM telemetry.overcycle_anchor
		WHERE line_id = $1 AND shift_id = $2 AND shift_date = $3::date`, lineID, shiftID, shiftDate)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.CumulativeAnchor, error) {
		var a domain.CumulativeAnchor
		var d time.Time
		err := r.Scan(&a.LineID, &a.ShiftID, &d, &a.StationID, &a.AsOfLocal, &a.IncOverCnt, &a.IncOverSec, &a.IncMaxOverSec, &a.SlotDurationMin)
		a.ShiftDate = d.Format("2006-01-02")
		return a, err
	})
	if err != nil {
		return nil, KindStoreError, err
	}
	if len(out) == 0 {
		return out, KindEmpty, nil
	}
	return out, KindOK, nil
}

// UpsertSlotLineBatch is the §6 `upsertSlotLineBatch` write: the
// line-level snapshot row marking whether the shift's leaderboard is
// final (a just-ended, fully reconciled shift) or live.
func (s *Store) UpsertSlotLineBatch(ctx context.Context, lineID, shiftID, shiftDate string, isFinal bool, payload json.RawMessage, createdBy string) (Kind, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.slot_line (line_id, shift_id, shift_date, is_final, payload, created_by, created_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, NOW())
		ON CONFLICT (line_id, shift_id, shift_date) DO UPDATE SET
			is_final = telemetry.slot_line.is_final OR EXCLUDED.is_final,
			payload = EXCLUDED.payload,
			created_by = EXCLUDED.created_by,
			created_at = NOW()
	`, lineID, shiftID, shiftDate, isFinal, []byte(payload), createdBy)
	return classify(err)
}

// TagPublishLogRow is one row of the §4.7 typed publish log.
type TagPublishLogRow struct {
	ConfigID   string
	TopicID    string
	QoS        int
	Retain     bool
	ValueType  string
	ValueNum   *float64
	ValueText  *string
	ValueBool  *bool
	QualityOK  bool
	Quality    string
	SrcTS      time.Time
}

// InsertTagPublishLog logs one published tag value (§4.7 last paragraph).
func (s *Store) InsertTagPublishLog(ctx context.Context, row TagPublishLogRow) (Kind, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO telemetry.tag_publish_log
			(config_id, topic_id, qos, retain, value_type, value_num, value_text, value_bool, quality_ok, quality, src_ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, row.ConfigID, row.TopicID, row.QoS, row.Retain, row.ValueType,
		row.ValueNum, row.ValueText, row.ValueBool, row.QualityOK, row.Quality, row.SrcTS)
	return classify(err)
}
