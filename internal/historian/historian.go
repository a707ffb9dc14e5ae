// Package historian implements the three primitives every engine uses to
// read the external, read-only counter/cycle-time time series (§4.1):
// anchor, reset-safe positive delta, and first-increment lookup.
package historian

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Sample is one (timestamp, value) point from a queried history series (§6).
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Series is the external, read-only historian client (§6 "queryHistory").
type Series interface {
	QueryHistory(ctx context.Context, path string, start, end time.Time, includeBounding bool) ([]Sample, error)
}

// ErrNoSamples is returned internally when a lookback window has no data;
// callers of Anchor observe this as a nil result rather than an error.
var ErrNoSamples = errors.New("historian: no samples in lookback window")

// DefaultLookback is the window Anchor searches backward from `at` for the
// last sample at or before the boundary (§4.1).
const DefaultLookback = 48 * time.Hour

// Client wraps a Series with the Anchor/PositiveDelta/FirstIncrementAfter
// contract (§4.1).
type Client struct {
	series   Series
	lookback time.Duration
}

// New wraps series with the default 48h anchor lookback.
func New(series Series) *Client {
	return &Client{series: series, lookback: DefaultLookback}
}

// Anchor returns the last value at or before `at`, using inclusive
// bounding. Returns nil if no samples exist within the lookback window;
// callers treat nil as "no history anchor available" and fall back to the
// live value (§4.1).
func (c *Client) Anchor(ctx context.Context, path string, at time.Time) (*Sample, error) {
	start := at.Add(-c.lookback)
	samples, err := c.series.QueryHistory(ctx, path, start, at, true)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	// Samples may arrive in any order; take the latest at-or-before `at`.
	best := -1
	for i, s := range samples {
		if s.Timestamp.After(at) || s.Timestamp.Before(start) {
			continue
		}
		if best == -1 || samples[i].Timestamp.After(samples[best].Timestamp) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil
	}
	out := samples[best]
	return &out, nil
}

// PositiveDelta sums only the increases over [start, end), absorbing
// resets and dips (§4.1, P2). Samples are sorted by timestamp before the
// peak-tracking pass so callers don't need to pre-sort.
func (c *Client) PositiveDelta(ctx context.Context, path string, start, end time.Time) (int64, error) {
	samples, err := c.series.QueryHistory(ctx, path, start, end, true)
	if err != nil {
		return 0, err
	}
	return PositiveDeltaOf(samples), nil
}

// PositiveDeltaOf runs the reset-safe accumulation algorithm over an
// already-fetched, possibly-unsorted sample slice (§4.1, P2):
//
//	peak = samples[0].Value
//	for each subsequent v:
//	  if v > peak: total += v - peak; peak = v
//	  else: ignore (absorbs resets/dips)
func PositiveDeltaOf(samples []Sample) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	peak := sorted[0].Value
	var total float64
	for _, s := range sorted[1:] {
		if s.Value > peak {
			total += s.Value - peak
			peak = s.Value
		}
		// s.Value <= peak: reset or dip, absorbed silently.
	}
	return int64(total)
}

// FirstIncrementAfter returns the timestamp of the first sample strictly
// greater than prevValue within [start, end), or nil if none exists. Used
// to pin CT-segment boundaries to an actual production event (§4.1).
func (c *Client) FirstIncrementAfter(ctx context.Context, path string, prevValue float64, start, end time.Time) (*time.Time, error) {
	samples, err := c.series.QueryHistory(ctx, path, start, end, true)
	if err != nil {
		return nil, err
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	for _, s := range samples {
		if s.Timestamp.Before(start) || !s.Timestamp.Before(end) {
			continue
		}
		if s.Value > prevValue {
			ts := s.Timestamp
			return &ts, nil
		}
	}
	return nil, nil
}
