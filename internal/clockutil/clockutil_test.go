package clockutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloorCeilHourUTC(t *testing.T) {
	ts := time.Date(2026, 3, 5, 10, 34, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), FloorHourUTC(ts))
	assert.Equal(t, time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), CeilHourUTC(ts))

	onBoundary := time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, onBoundary, CeilHourUTC(onBoundary))
}

func TestWeekStartLocal(t *testing.T) {
	loc, err := time.LoadLocation("America/Detroit")
	require.NoError(t, err)

	// 2026-03-05 is a Thursday (ISO weekday 4).
	thu := time.Date(2026, 3, 5, 15, 0, 0, 0, loc)

	// week starts Monday (dow=1) -> 2026-03-02
	got := WeekStartLocal(thu, loc, 1)
	assert.Equal(t, "2026-03-02", got.Format("2006-01-02"))

	// week starts Sunday (dow=7) -> 2026-03-01
	got = WeekStartLocal(thu, loc, 7)
	assert.Equal(t, "2026-03-01", got.Format("2006-01-02"))
}

func TestLocalDateString(t *testing.T) {
	loc := time.UTC
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, loc)
	assert.Equal(t, "2026-01-02", LocalDateString(ts, loc))
}
