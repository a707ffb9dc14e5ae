package historian

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSeries implements Series against a flattened historian table —
// a simplification of the tag historian's multi-table partition scheme
// (distinct scan-class tables joined through a tag-info table) down to
// one wide table keyed by tag path, which is what a Postgres-backed
// historian deployment exposes to readers.
type SQLSeries struct {
	db    *pgxpool.Pool
	table string
}

// NewSQLSeries wraps a pool. table defaults to "historian.tag_samples"
// when empty.
func NewSQLSeries(db *pgxpool.Pool, table string) *SQLSeries {
	if table == "" {
		table = "historian.tag_samples"
	}
	return &SQLSeries{db: db, table: table}
}

// QueryHistory returns every sample for path within [start, end]; when
// includeBounding is true the query also returns the last sample strictly
// before start, so callers get a usable left edge for interpolation (§6).
func (s *SQLSeries) QueryHistory(ctx context.Context, path string, start, end time.Time, includeBounding bool) ([]Sample, error) {
	var rows pgx.Rows
	var err error
	if includeBounding {
		rows, err = s.db.Query(ctx, `
			(SELECT ts, value FROM `+s.table+`
				WHERE path = $1 AND ts < $2
				ORDER BY ts DESC LIMIT 1)
			UNION ALL
			(SELECT ts, value FROM `+s.table+`
				WHERE path = $1 AND ts >= $2 AND ts <= $3
				ORDER BY ts ASC)
		`, path, start, end)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT ts, value FROM `+s.table+`
			WHERE path = $1 AND ts >= $2 AND ts <= $3
			ORDER BY ts ASC
		`, path, start, end)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Sample, error) {
		var sm Sample
		scanErr := r.Scan(&sm.Timestamp, &sm.Value)
		return sm, scanErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
