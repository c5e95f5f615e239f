package events

import (
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
)

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe("sess-1", nil)

	evt := NewEvent(clock.NewSeqIDGen("evt"), clock.NewFake(time.Unix(0, 0)), TaskUpdated, "board", "sess-1", PriorityNormal, nil)
	bus.Publish(evt)

	select {
	case got := <-ch:
		if got.ID != evt.ID {
			t.Fatalf("got event %s, want %s", got.ID, evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusAllSubscriberReceivesEverything(t *testing.T) {
	bus := NewBus(nil)
	all := bus.Subscribe("all", nil)

	evt := NewEvent(clock.NewSeqIDGen("evt"), clock.NewFake(time.Unix(0, 0)), SessionUpdated, "store", "sess-42", PriorityNormal, nil)
	bus.Publish(evt)

	select {
	case got := <-all:
		if got.Target != "sess-42" {
			t.Fatalf("got target %s, want sess-42", got.Target)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusTypeFilter(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe("sess-1", []EventType{TaskUpdated})

	ids := clock.NewSeqIDGen("evt")
	fc := clock.NewFake(time.Unix(0, 0))
	bus.Publish(NewEvent(ids, fc, AgentSpawned, "pool", "sess-1", PriorityNormal, nil))
	bus.Publish(NewEvent(ids, fc, TaskUpdated, "board", "sess-1", PriorityNormal, nil))

	select {
	case got := <-ch:
		if got.Type != TaskUpdated {
			t.Fatalf("expected only TaskUpdated, got %s", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second event delivered: %v", extra)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe("sess-1", nil)
	bus.Unsubscribe("sess-1", ch)

	_, open := <-ch
	if open {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestBusBoundedSubscriberDropsAfterRetries(t *testing.T) {
	bus := NewBus(nil)
	const capacity = 4
	ch := bus.SubscribeBounded("sess-1", nil, capacity)

	ids := clock.NewSeqIDGen("evt")
	fc := clock.NewFake(time.Unix(0, 0))
	for i := 0; i < capacity+5; i++ {
		bus.Publish(NewEvent(ids, fc, TaskUpdated, "board", "sess-1", PriorityNormal, nil))
	}

	if bus.DroppedEventCount() == 0 {
		t.Fatal("expected at least one dropped event once the bounded buffer stayed full")
	}
	_ = ch
}

func TestBusDefaultSubscriberBacksPressureInsteadOfDropping(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe("sess-1", nil)

	ids := clock.NewSeqIDGen("evt")
	fc := clock.NewFake(time.Unix(0, 0))

	const total = defaultChannelSize + 5
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			bus.Publish(NewEvent(ids, fc, TaskUpdated, "board", "sess-1", PriorityNormal, nil))
		}
		close(done)
	}()

	received := 0
	for received < total {
		select {
		case <-ch:
			received++
		case <-time.After(time.Second):
			t.Fatalf("timed out after receiving %d/%d events; back-pressure should never drop", received, total)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher goroutine never finished draining")
	}

	if bus.DroppedEventCount() != 0 {
		t.Fatalf("expected zero drops on the default (back-pressured) subscription, got %d", bus.DroppedEventCount())
	}
}
