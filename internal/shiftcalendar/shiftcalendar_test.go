package shiftcalendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnaline/productiontelemetry/internal/domain"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 5, h, m, 0, 0, time.UTC)
}

// P4: workingMs(a,b,line) + sum(overlap) == b-a when breaks disjoint/contained.
func TestWorkingMs_BreakAware(t *testing.T) {
	idx := Build([]domain.BreakSpan{
		{LineID: "L1", Start: at(10, 15), End: at(10, 30), IsActive: true},
	}, nil)

	got := idx.WorkingMs(at(10, 0), at(11, 0), "L1")
	assert.Equal(t, 45*time.Minute, got)
}

func TestWorkingMs_MergesOverlappingBreaks(t *testing.T) {
	idx := Build([]domain.BreakSpan{
		{LineID: "L1", Start: at(10, 0), End: at(10, 20), IsActive: true},
		{LineID: "L1", Start: at(10, 10), End: at(10, 30), IsActive: true},
	}, nil)
	got := idx.WorkingMs(at(10, 0), at(11, 0), "L1")
	assert.Equal(t, 30*time.Minute, got) // merged break is [10:00,10:30) = 30min
}

func TestActiveAndLastEndedShift(t *testing.T) {
	windows := []domain.ShiftWindow{
		{ShiftID: "S1", LineID: "L1", Start: at(6, 0), End: at(14, 0)},
		{ShiftID: "S2", LineID: "L1", Start: at(14, 0), End: at(22, 0)},
	}
	idx := Build(nil, windows)

	active, ok := idx.ActiveShift("L1", at(10, 0))
	require.True(t, ok)
	assert.Equal(t, "S1", active.ShiftID)

	// tick at 14:05, shift S1 ended at 14:00
	ended, ok := idx.LastEndedShift("L1", at(14, 5), 18*time.Hour)
	require.True(t, ok)
	assert.Equal(t, "S1", ended.ShiftID)

	// outside grace
	_, ok = idx.LastEndedShift("L1", at(14, 5), 0)
	assert.False(t, ok)
}
