package historian

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSeries struct {
	samples []Sample
}

func (f *fakeSeries) QueryHistory(_ context.Context, _ string, start, end time.Time, _ bool) ([]Sample, error) {
	var out []Sample
	for _, s := range f.samples {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end.Add(time.Nanosecond)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func ts(min int) time.Time {
	return time.Date(2026, 1, 1, 0, min, 0, 0, time.UTC)
}

// P2: positiveDelta([10,11,12,3,4,5,13]) = 13
func TestPositiveDeltaOf_ResetSafety(t *testing.T) {
	samples := []Sample{
		{Timestamp: ts(0), Value: 10},
		{Timestamp: ts(1), Value: 11},
		{Timestamp: ts(2), Value: 12},
		{Timestamp: ts(3), Value: 3},
		{Timestamp: ts(4), Value: 4},
		{Timestamp: ts(5), Value: 5},
		{Timestamp: ts(6), Value: 13},
	}
	assert.Equal(t, int64(13), PositiveDeltaOf(samples))
}

func TestPositiveDeltaOf_CounterReset(t *testing.T) {
	// scenario 2: {08:05->50, 08:15->55, 08:20->0, 08:25->7} => 5+7=12
	samples := []Sample{
		{Timestamp: ts(5), Value: 50},
		{Timestamp: ts(15), Value: 55},
		{Timestamp: ts(20), Value: 0},
		{Timestamp: ts(25), Value: 7},
	}
	assert.Equal(t, int64(12), PositiveDeltaOf(samples))
}

func TestPositiveDeltaOf_Empty(t *testing.T) {
	assert.Equal(t, int64(0), PositiveDeltaOf(nil))
}

func TestClient_Anchor(t *testing.T) {
	series := &fakeSeries{samples: []Sample{
		{Timestamp: ts(0), Value: 100},
		{Timestamp: ts(30), Value: 150},
		{Timestamp: ts(90), Value: 200}, // after `at`
	}}
	c := New(series)
	got, err := c.Anchor(context.Background(), "p", ts(45))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, float64(150), got.Value)
}

func TestClient_Anchor_NoSamples(t *testing.T) {
	c := New(&fakeSeries{})
	got, err := c.Anchor(context.Background(), "p", ts(45))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_FirstIncrementAfter(t *testing.T) {
	series := &fakeSeries{samples: []Sample{
		{Timestamp: ts(0), Value: 10},
		{Timestamp: ts(5), Value: 10},
		{Timestamp: ts(10), Value: 11},
	}}
	c := New(series)
	got, err := c.FirstIncrementAfter(context.Background(), "p", 10, ts(0), ts(20))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(ts(10)))
}
