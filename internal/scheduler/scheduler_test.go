package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_CoalescesOverlappingTicks(t *testing.T) {
	var runs int32
	var concurrent int32
	var maxConcurrent int32

	s := New(zap.NewNop(), prometheus.NewRegistry())
	s.Add(Task{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) {
			c := atomic.AddInt32(&concurrent, 1)
			if c > atomic.LoadInt32(&maxConcurrent) {
				atomic.StoreInt32(&maxConcurrent, c)
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&runs, 1)
			atomic.AddInt32(&concurrent, -1)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 1)
	require.Greater(t, int(atomic.LoadInt32(&runs)), 0)
}

func TestScheduler_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	s := New(zap.NewNop(), prometheus.NewRegistry())
	s.Add(Task{
		Name:     "panics",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) {
			defer close(done)
			panic("boom")
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("task never ran")
	}
}
