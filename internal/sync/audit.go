package sync

import (
	"sync"

	"github.com/oriys/cortex/internal/domain"
)

// AuditSink receives every SyncEvent the bus publishes, with no drop
// behavior: unlike a Subscribe channel, a full sink never causes Publish to
// skip it. Correctness-critical consumers (such as tests asserting on
// outcomes) attach one instead of relying on a best-effort subscription.
type AuditSink interface {
	Record(event domain.SyncEvent)
}

// RingAuditSink is an in-memory AuditSink holding the last `size` events.
// Safe for concurrent use.
type RingAuditSink struct {
	mu     sync.Mutex
	buf    []domain.SyncEvent
	size   int
	cursor int
	count  int
}

// NewRingAuditSink constructs a ring buffer of the given capacity.
func NewRingAuditSink(size int) *RingAuditSink {
	if size <= 0 {
		size = 256
	}
	return &RingAuditSink{buf: make([]domain.SyncEvent, size), size: size}
}

// Record appends event, overwriting the oldest entry once the ring is full.
func (r *RingAuditSink) Record(event domain.SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.cursor] = event
	r.cursor = (r.cursor + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Events returns a snapshot of the recorded events, oldest first.
func (r *RingAuditSink) Events() []domain.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SyncEvent, r.count)
	start := (r.cursor - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%r.size]
	}
	return out
}
