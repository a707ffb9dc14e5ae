// Package store is the durable-store adapter (§6): a pgx connection pool
// plus the named read/write operations every engine calls. Writes are
// idempotent upserts keyed by natural identity so repeated delivery under
// at-least-once semantics is a no-op (§5 "Idempotency").
package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx pool with the named operations from §6.
type Store struct {
	db *pgxpool.Pool
}

// New opens a connection pool tuned the way the teacher tunes its
// ingestion pool: bounded lifetime/idle time so connections are recycled
// across deploys, and conservative per-connection statement timeouts so a
// slow query can't wedge an engine tick (§5 "bound per-tick wall time").
func New(ctx context.Context, dbURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}

	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = envDefault("DB_STATEMENT_TIMEOUT", "60000") // 1 min; ticks must stay bounded
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"]; !ok {
		cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = envDefault("DB_IDLE_TX_TIMEOUT", "120000")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Store{db: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Close releases the pool.
func (s *Store) Close() { s.db.Close() }

// Pool exposes the underlying pgx pool for adapters that need to query
// tables this package doesn't otherwise wrap (e.g. the historian series).
func (s *Store) Pool() *pgxpool.Pool { return s.db }

// Migrate executes a schema file verbatim, matching the teacher's
// single-shot schema apply (flowindex's `schema_v2.sql` via Repository.Migrate).
func (s *Store) Migrate(ctx context.Context, schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := s.db.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

const ensureSchemaDDL = `
CREATE SCHEMA IF NOT EXISTS telemetry;

CREATE TABLE IF NOT EXISTS telemetry.stations (
	station_id         TEXT PRIMARY KEY,
	line_id            TEXT NOT NULL,
	area               TEXT NOT NULL,
	subarea            TEXT NOT NULL,
	line               TEXT NOT NULL,
	station            TEXT NOT NULL,
	tag_path           TEXT,
	is_turntable       BOOLEAN NOT NULL DEFAULT FALSE,
	fixtures_per_side  INT NOT NULL DEFAULT 1,
	is_critical        BOOLEAN NOT NULL DEFAULT FALSE,
	parallelism_factor DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS telemetry.part_ct (
	station_id           TEXT NOT NULL,
	part_number          TEXT NOT NULL,
	cycle_time_sec       DOUBLE PRECISION NOT NULL,
	overcycle_multiplier DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (station_id, part_number)
);

CREATE TABLE IF NOT EXISTS telemetry.shift_schedule (
	line_id    TEXT NOT NULL,
	shift_id   TEXT NOT NULL,
	shift_date DATE NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (line_id, shift_id, shift_date)
);

CREATE TABLE IF NOT EXISTS telemetry.breaks (
	line_id    TEXT NOT NULL,
	shift_date DATE NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS telemetry.hourly_rollup (
	station_id  TEXT NOT NULL,
	line_id     TEXT NOT NULL,
	hour_start  TIMESTAMPTZ NOT NULL,
	total_parts BIGINT NOT NULL DEFAULT 0,
	start_count BIGINT,
	end_count   BIGINT,
	is_closed   BOOLEAN NOT NULL DEFAULT FALSE,
	is_published BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (station_id, hour_start)
);

CREATE TABLE IF NOT EXISTS telemetry.shift_rollup (
	station_id  TEXT NOT NULL,
	line_id     TEXT NOT NULL,
	shift_id    TEXT NOT NULL,
	shift_date  DATE NOT NULL,
	total_parts BIGINT NOT NULL DEFAULT 0,
	start_count BIGINT,
	end_count   BIGINT,
	is_closed   BOOLEAN NOT NULL DEFAULT FALSE,
	is_published BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (station_id, shift_id, shift_date)
);

CREATE TABLE IF NOT EXISTS telemetry.weekly_rollup (
	station_id  TEXT NOT NULL,
	line_id     TEXT NOT NULL,
	week_start  DATE NOT NULL,
	total_parts BIGINT NOT NULL DEFAULT 0,
	is_closed   BOOLEAN NOT NULL DEFAULT FALSE,
	is_published BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (station_id, week_start)
);

CREATE TABLE IF NOT EXISTS telemetry.hourly_targets (
	station_id   TEXT NOT NULL,
	hour_start   TIMESTAMPTZ NOT NULL,
	target_parts_base BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (station_id, hour_start)
);

CREATE TABLE IF NOT EXISTS telemetry.shift_targets (
	station_id   TEXT NOT NULL,
	shift_id     TEXT NOT NULL,
	shift_date   DATE NOT NULL,
	target_parts_base BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (station_id, shift_id, shift_date)
);

CREATE TABLE IF NOT EXISTS telemetry.ct_segments (
	station_id           TEXT NOT NULL,
	effective_from_utc   TIMESTAMPTZ NOT NULL,
	ct_eff_sec           DOUBLE PRECISION NOT NULL,
	fixtures_per_side    INT NOT NULL,
	is_turntable         BOOLEAN NOT NULL,
	parallelism_factor   DOUBLE PRECISION NOT NULL,
	parts_json           JSONB,
	ct_mode              TEXT NOT NULL,
	overcycle_multiplier DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (station_id, effective_from_utc)
);

CREATE TABLE IF NOT EXISTS telemetry.overcycle_anchor (
	line_id         TEXT NOT NULL,
	shift_id        TEXT NOT NULL,
	shift_date      DATE NOT NULL,
	station_id      TEXT NOT NULL,
	as_of_local     TIMESTAMPTZ NOT NULL,
	inc_over_cnt    BIGINT NOT NULL,
	inc_over_sec    DOUBLE PRECISION NOT NULL,
	inc_max_over_sec DOUBLE PRECISION NOT NULL,
	slot_duration_min DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (line_id, shift_id, shift_date, station_id)
);

CREATE TABLE IF NOT EXISTS telemetry.slot_line (
	line_id     TEXT NOT NULL,
	shift_id    TEXT NOT NULL,
	shift_date  DATE NOT NULL,
	is_final    BOOLEAN NOT NULL DEFAULT FALSE,
	payload     JSONB,
	created_by  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (line_id, shift_id, shift_date)
);

CREATE TABLE IF NOT EXISTS telemetry.tag_publish_log (
	id          BIGSERIAL PRIMARY KEY,
	config_id   TEXT,
	topic_id    TEXT,
	qos         INT NOT NULL DEFAULT 0,
	retain      BOOLEAN NOT NULL DEFAULT FALSE,
	value_type  TEXT NOT NULL,
	value_num   DOUBLE PRECISION,
	value_text  TEXT,
	value_bool  BOOLEAN,
	quality_ok  BOOLEAN NOT NULL DEFAULT TRUE,
	quality     TEXT,
	src_ts      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, ensureSchemaDDL)
	return err
}
