package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/store"
)

type fakeCalendarStore struct {
	shiftsByDate map[string][]domain.ShiftWindow
	breaksByDate map[string][]domain.BreakSpan
}

func (f *fakeCalendarStore) GetShiftScheduleOnDate(ctx context.Context, shiftDate string) ([]domain.ShiftWindow, store.Kind, error) {
	out := f.shiftsByDate[shiftDate]
	if len(out) == 0 {
		return nil, store.KindEmpty, nil
	}
	return out, store.KindOK, nil
}

func (f *fakeCalendarStore) GetBreaksOnDate(ctx context.Context, shiftDate string) ([]domain.BreakSpan, store.Kind, error) {
	out := f.breaksByDate[shiftDate]
	if len(out) == 0 {
		return nil, store.KindEmpty, nil
	}
	return out, store.KindOK, nil
}

func TestCalendar_RefreshBuildsIndexFromTodayAndYesterday(t *testing.T) {
	loc := time.UTC
	today := time.Now().In(loc).Format("2006-01-02")

	fs := &fakeCalendarStore{
		shiftsByDate: map[string][]domain.ShiftWindow{
			today: {{LineID: "L1", ShiftID: "S1", ShiftLocalDate: today, Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)}},
		},
		breaksByDate: map[string][]domain.BreakSpan{},
	}

	cal := NewCalendar(fs, loc, 1, zap.NewNop())
	require.Nil(t, cal.Current())

	cal.Refresh(context.Background())
	idx := cal.Current()
	require.NotNil(t, idx)

	_, ok := idx.ActiveShift("L1", time.Now())
	require.True(t, ok)
}

func TestCalendar_RefreshBuildsIndexWhenStoreHasNoRows(t *testing.T) {
	loc := time.UTC
	fs := &fakeCalendarStore{
		shiftsByDate: map[string][]domain.ShiftWindow{},
		breaksByDate: map[string][]domain.BreakSpan{},
	}
	cal := NewCalendar(fs, loc, 1, zap.NewNop())
	cal.Refresh(context.Background())
	require.NotNil(t, cal.Current())
}
