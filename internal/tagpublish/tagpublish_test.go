package tagpublish

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/store"
)

type fakeBroker struct {
	publishes int32
	lastTopic string
	lastPayload any
}

func (b *fakeBroker) Publish(topic string, qos byte, retain bool, payload any) error {
	atomic.AddInt32(&b.publishes, 1)
	b.lastTopic = topic
	b.lastPayload = payload
	return nil
}

type fakeLogStore struct {
	rows []store.TagPublishLogRow
}

func (s *fakeLogStore) InsertTagPublishLog(ctx context.Context, row store.TagPublishLogRow) (store.Kind, error) {
	s.rows = append(s.rows, row)
	return store.KindOK, nil
}

func TestNotifyStatusChange_CoalescesBurst(t *testing.T) {
	b := &fakeBroker{}
	st := &fakeLogStore{}
	p := New(b, st, zap.NewNop())

	build := func() StatusPayload {
		return StatusPayload{Version: 1, Data: []SideStatus{{SideID: 1, TotalParts: 42}}}
	}
	for i := 0; i < 5; i++ {
		p.NotifyStatusChange(context.Background(), "m/topic/Status", build)
	}

	time.Sleep(StatusCoalesceWindow + 50*time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&b.publishes))
	require.Len(t, st.rows, 1)
	require.Equal(t, "text", st.rows[0].ValueType)
	require.NotNil(t, st.rows[0].ValueText)
	require.Contains(t, *st.rows[0].ValueText, `"TotalParts":42`)
}

func TestNotifyNodeChange_AndReduceTristate(t *testing.T) {
	b := &fakeBroker{}
	st := &fakeLogStore{}
	p := New(b, st, zap.NewNop())

	p.NotifyNodeChange(context.Background(), "m/topic/Node", func() []interface{} {
		return []interface{}{true, 1.0, "on"}
	})
	time.Sleep(NodeCoalesceWindow + 50*time.Millisecond)

	require.EqualValues(t, 1, atomic.LoadInt32(&b.publishes))
	require.Len(t, st.rows, 1)
	require.NotNil(t, st.rows[0].ValueBool)
	require.True(t, *st.rows[0].ValueBool)
}

func TestNotifyNodeChange_AnyFalseWins(t *testing.T) {
	b := &fakeBroker{}
	st := &fakeLogStore{}
	p := New(b, st, zap.NewNop())

	p.NotifyNodeChange(context.Background(), "m/topic/Node", func() []interface{} {
		return []interface{}{true, false, true}
	})
	time.Sleep(NodeCoalesceWindow + 50*time.Millisecond)

	require.Len(t, st.rows, 1)
	require.NotNil(t, st.rows[0].ValueBool)
	require.False(t, *st.rows[0].ValueBool)
}

func TestNotifyCycleChange_FirstGoodNumeric(t *testing.T) {
	b := &fakeBroker{}
	st := &fakeLogStore{}
	p := New(b, st, zap.NewNop())

	p.NotifyCycleChange(context.Background(), "m/topic/Cycle", func() []interface{} {
		return []interface{}{nil, "not-a-number", 12.5, 99.0}
	})
	time.Sleep(NodeCoalesceWindow + 50*time.Millisecond)

	require.EqualValues(t, 1, atomic.LoadInt32(&b.publishes))
	require.Len(t, st.rows, 1)
	require.NotNil(t, st.rows[0].ValueNum)
	require.Equal(t, 12.5, *st.rows[0].ValueNum)
}

func TestNotifyCycleChange_NoGoodValueSkipsPublish(t *testing.T) {
	b := &fakeBroker{}
	st := &fakeLogStore{}
	p := New(b, st, zap.NewNop())

	p.NotifyCycleChange(context.Background(), "m/topic/Cycle", func() []interface{} {
		return []interface{}{nil, "n/a"}
	})
	time.Sleep(NodeCoalesceWindow + 50*time.Millisecond)

	require.EqualValues(t, 0, atomic.LoadInt32(&b.publishes))
	require.Empty(t, st.rows)
}
