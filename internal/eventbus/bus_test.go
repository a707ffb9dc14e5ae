package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan TagEvent, 10)
	bus.Subscribe("status", received)

	bus.Publish(TagEvent{
		GroupType: "status",
		StationID: "STN-1",
		SeqNo:     100,
		Timestamp: time.Now(),
		Data:      map[string]string{"tag": "CycleTime"},
	})

	select {
	case evt := <-received:
		if evt.GroupType != "status" {
			t.Errorf("expected status, got %s", evt.GroupType)
		}
		if evt.SeqNo != 100 {
			t.Errorf("expected seqno 100, got %d", evt.SeqNo)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan TagEvent, 10)
	ch2 := make(chan TagEvent, 10)
	bus.Subscribe("node", ch1)
	bus.Subscribe("node", ch2)

	bus.Publish(TagEvent{GroupType: "node", SeqNo: 1})

	for _, ch := range []chan TagEvent{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	statusCh := make(chan TagEvent, 10)
	cycleCh := make(chan TagEvent, 10)
	bus.Subscribe("status", statusCh)
	bus.Subscribe("cycle", cycleCh)

	bus.Publish(TagEvent{GroupType: "status", SeqNo: 1})

	select {
	case <-statusCh:
	case <-time.After(time.Second):
		t.Fatal("status subscriber did not receive event")
	}

	select {
	case <-cycleCh:
		t.Fatal("cycle subscriber should NOT receive status event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan TagEvent, 100)
	bus.Subscribe("status", received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			bus.Publish(TagEvent{GroupType: "status", SeqNo: seq})
		}(uint64(i))
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
