package sync

import (
	"testing"

	"github.com/oriys/cortex/internal/domain"
)

func TestRingAuditSinkWrapsAndPreservesOrder(t *testing.T) {
	sink := NewRingAuditSink(3)
	for i := 0; i < 5; i++ {
		sink.Record(domain.SyncEvent{EntityID: string(rune('a' + i))})
	}
	got := sink.Events()
	if len(got) != 3 {
		t.Fatalf("expected ring capped at 3 events, got %d", len(got))
	}
	want := []string{"c", "d", "e"}
	for i, ev := range got {
		if ev.EntityID != want[i] {
			t.Fatalf("event %d: want %q, got %q", i, want[i], ev.EntityID)
		}
	}
}

func TestEventBusPublishesToAuditSinkEvenWhenSubscribersFull(t *testing.T) {
	bus := NewEventBus()
	sink := NewRingAuditSink(8)
	bus.SetAuditSink(sink)

	ch, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	bus.Publish(domain.SyncEvent{EntityID: "e1"})
	bus.Publish(domain.SyncEvent{EntityID: "e2"}) // subscriber buffer is full now; sink still records it

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected sink to record both events, got %d", len(events))
	}
	if events[1].EntityID != "e2" {
		t.Fatalf("expected sink to record e2 despite a full subscriber buffer, got %q", events[1].EntityID)
	}

	select {
	case ev := <-ch:
		if ev.EntityID != "e1" {
			t.Fatalf("expected subscriber to receive e1, got %q", ev.EntityID)
		}
	default:
		t.Fatal("expected subscriber to have received the first event")
	}
}
