package config

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/clockutil"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/shiftcalendar"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// CalendarStore is the subset of store.Store the calendar rebuild needs.
type CalendarStore interface {
	GetShiftScheduleOnDate(ctx context.Context, shiftDate string) ([]domain.ShiftWindow, store.Kind, error)
	GetBreaksOnDate(ctx context.Context, shiftDate string) ([]domain.BreakSpan, store.Kind, error)
}

// Calendar rebuilds a shiftcalendar.Index on a timer and serves the
// latest build to readers without blocking on the refresh (§4.3). The
// source splits shift-window and break refreshes onto separate timers;
// here a single rebuild reads both, gated by whichever cadence elapsed —
// the effective cadence is the shift one (REDESIGN FLAG, SHIFT_CACHE_SEC=8)
// since every rebuild needs both inputs to construct one Index.
type Calendar struct {
	store   CalendarStore
	loc     *time.Location
	weekDOW int
	log     *zap.Logger

	idx atomic.Pointer[shiftcalendar.Index]
}

// NewCalendar wraps a store-backed calendar source.
func NewCalendar(st CalendarStore, loc *time.Location, weekDOW int, log *zap.Logger) *Calendar {
	return &Calendar{store: st, loc: loc, weekDOW: weekDOW, log: log}
}

// Current returns the most recently built index, or nil before the first
// successful refresh.
func (c *Calendar) Current() *shiftcalendar.Index {
	return c.idx.Load()
}

// Refresh rebuilds the index from today's and yesterday's shift/break
// data, so overnight-spanning shifts still resolve correctly. Errors are
// logged and the previous index is left in place.
func (c *Calendar) Refresh(ctx context.Context) {
	today, yesterday := todayYesterday(c.loc)

	shifts, err := c.fetchShifts(ctx, today, yesterday)
	if err != nil {
		c.log.Warn("calendar: shift schedule refresh failed", zap.Error(err))
		return
	}
	breaks, err := c.fetchBreaks(ctx, today, yesterday)
	if err != nil {
		c.log.Warn("calendar: break span refresh failed", zap.Error(err))
		return
	}

	c.idx.Store(shiftcalendar.Build(breaks, shifts))
}

func (c *Calendar) fetchShifts(ctx context.Context, today, yesterday string) ([]domain.ShiftWindow, error) {
	out, kind, err := c.store.GetShiftScheduleOnDate(ctx, today)
	if kind == store.KindStoreError {
		return nil, err
	}
	prior, kind, err := c.store.GetShiftScheduleOnDate(ctx, yesterday)
	if kind == store.KindStoreError {
		return nil, err
	}
	return append(prior, out...), nil
}

func (c *Calendar) fetchBreaks(ctx context.Context, today, yesterday string) ([]domain.BreakSpan, error) {
	out, kind, err := c.store.GetBreaksOnDate(ctx, today)
	if kind == store.KindStoreError {
		return nil, err
	}
	prior, kind, err := c.store.GetBreaksOnDate(ctx, yesterday)
	if kind == store.KindStoreError {
		return nil, err
	}
	return append(prior, out...), nil
}

// todayYesterday returns today's and yesterday's local date strings.
func todayYesterday(loc *time.Location) (string, string) {
	now := time.Now().In(loc)
	return clockutil.LocalDateString(now, loc), clockutil.LocalDateString(now.Add(-24*time.Hour), loc)
}
