package sync

import (
	"sync"

	"github.com/oriys/cortex/internal/domain"
)

// EventBus is a broadcast channel of SyncEvents with a bounded per-
// subscriber buffer. It generalizes the teacher's eventbus.WorkerPool
// (internal/eventbus, a poll/lease/retry/DLQ queue backed by Postgres) to
// an in-process fan-out bus: the sync coordinator has no durability
// requirement on its notifications, only on the WAL itself, so a simple
// bounded chan per subscriber suffices. A slow subscriber misses events
// once its buffer fills, per spec.md §9 DESIGN NOTES; Publish never
// blocks on a subscriber.
type EventBus struct {
	mu   sync.RWMutex
	subs map[int]chan domain.SyncEvent
	next int
	sink AuditSink
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan domain.SyncEvent)}
}

// SetAuditSink attaches (or, with nil, detaches) the bus's audit sink. Every
// event Published after this call also goes to sink, unconditionally.
func (b *EventBus) SetAuditSink(sink AuditSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan domain.SyncEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.SyncEvent, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts event to every subscriber. A subscriber whose buffer
// is full misses the event rather than stalling the publisher.
func (b *EventBus) Publish(event domain.SyncEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sink != nil {
		b.sink.Record(event)
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
