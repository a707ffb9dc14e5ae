// Package domain holds the shared data model (§3): stations, shift
// windows, break spans, rollup rows, CT segments, and the in-memory
// per-station live state the rollup engine owns across ticks.
package domain

import "time"

// Station is a single production station, the unit every engine ticks over.
type Station struct {
	StationID         string
	LineID            string
	Area              string
	Subarea           string
	Line              string
	Station            string
	TagPath           string // precomputed historian path; empty if missing
	IsTurntable       bool
	FixturesPerSide   int // 1..8
	IsCritical        bool
	ParallelismFactor float64 // λ ∈ [0,1]
}

// HasTag reports whether the station's historian tag was resolved at config load.
func (s Station) HasTag() bool { return s.TagPath != "" }

// PartCT is one row of a station's part_number → (cycle_time, overcycle_multiplier) map.
type PartCT struct {
	PartNumber         string
	CycleTimeSec       float64
	OvercycleMultiplier float64
}

// ShiftWindow is a named production period on a line, end-exclusive.
type ShiftWindow struct {
	ShiftID        string
	LineID         string
	ShiftLocalDate string // YYYY-MM-DD
	Start          time.Time
	End            time.Time
}

// Contains reports whether t falls in [Start, End).
func (w ShiftWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// BreakSpan is a single configured break window on a line.
type BreakSpan struct {
	LineID   string
	Start    time.Time
	End      time.Time
	IsActive bool
}

// RollupRow is one hour/shift/week accumulation row (§3).
type RollupRow struct {
	StationID       string
	LineID          string
	AnchorTime      time.Time // top-of-hour UTC, or shift/week anchor local
	ShiftID         string    // shift rows only
	TotalParts      int64
	StartCount      *int64
	EndCount        *int64
	IsClosed        bool
	IsPublished     bool
	TargetPartsBase int64 // joined from hourly_targets/shift_targets; 0 when unconfigured
}

// CTMode classifies how an effective CT segment was derived.
type CTMode string

const (
	CTModeLiveFixtures    CTMode = "live-fixtures"
	CTModeFallbackConfig  CTMode = "fallback-config"
	CTModeMissingConfig   CTMode = "missing-config"
)

// CTSegment is one contiguous window of constant effective CT for a station (§3).
type CTSegment struct {
	StationID          string
	EffectiveFromUTC   time.Time
	CTEffSec           float64
	FixturesPerSide    int
	IsTurntable        bool
	ParallelismFactor  float64
	PartsJSON          []byte
	CTMode             CTMode
	OvercycleMultiplier float64
}

// CumulativeAnchor is the latest published overcycle rollup for one
// (line, shift_id, shift_date, station_id) tuple (§3).
type CumulativeAnchor struct {
	LineID         string
	ShiftID        string
	ShiftDate      string
	StationID      string
	AsOfLocal      time.Time
	IncOverCnt     int64
	IncOverSec     float64
	IncMaxOverSec  float64
	SlotDurationMin float64
}

// BaseTargetRow is the integer target_parts_base computed for an hour or shift.
type BaseTargetRow struct {
	StationID       string
	HourStartUTC    *time.Time
	ShiftID         string
	ShiftDate       string
	TargetPartsBase int64
}

// FixtureSample is one observed fixture part-CT value with its source timestamp.
type FixtureSample struct {
	FixtureIndex int
	Side         int // 1 for non-turntable; 1..2 for turntable sides
	PartNumber   string
	CTSec        float64
	SourceTS     time.Time
	Good         bool
}

// StationLiveState is the in-memory state owned exclusively by the Rollup
// Engine for one station (§3 "Per-Station Live State").
type StationLiveState struct {
	HourStartUTC     time.Time
	HourStartCount   int64
	HourTotal        int64
	LastPeak         int64
	HourLastFlush    time.Time

	ShiftID         string
	ShiftDate       string
	ShiftStartCount int64
	ShiftTotal      int64

	WeekStartLocal string // YYYY-MM-DD
	WeekTotal      int64

	// PastShiftDoneKeys guards against re-emitting a late-reconciliation
	// row for a shift window already closed out.
	PastShiftDoneKeys map[string]struct{}

	Initialized bool
}
