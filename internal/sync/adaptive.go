package sync

import (
	"sync/atomic"
	"time"
)

// adaptiveBatcher tracks the current batch size for BatchSync, following
// the teacher's asyncqueue.AdaptiveController AIMD shape
// (internal/asyncqueue/adaptive.go) narrowed to the single dimension
// spec.md §4.10 calls for: batch size halves after every failed batch and
// grows gently after sustained success, bounded against target latency.
type adaptiveBatcher struct {
	maxBatchSize    int
	targetLatencyMs int64
	current         atomic.Int32
	consecutiveGood atomic.Int32
}

func newAdaptiveBatcher(maxBatchSize int, targetLatencyMs int64) *adaptiveBatcher {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	a := &adaptiveBatcher{maxBatchSize: maxBatchSize, targetLatencyMs: targetLatencyMs}
	a.current.Store(int32(maxBatchSize))
	return a
}

func (a *adaptiveBatcher) size() int {
	return int(a.current.Load())
}

// record observes the outcome of a batch: elapsed wall time and whether
// any entity in the batch failed. On failure the batch size halves
// (floor 1). On success, if latency stayed within target, three
// consecutive good batches earn a gentle +1 growth back up to
// max_batch_size.
func (a *adaptiveBatcher) record(elapsed time.Duration, failed bool) {
	if failed {
		a.consecutiveGood.Store(0)
		cur := a.current.Load()
		next := cur / 2
		if next < 1 {
			next = 1
		}
		a.current.Store(next)
		return
	}

	if a.targetLatencyMs > 0 && elapsed.Milliseconds() > a.targetLatencyMs {
		a.consecutiveGood.Store(0)
		return
	}

	if a.consecutiveGood.Add(1) >= 3 {
		a.consecutiveGood.Store(0)
		cur := a.current.Load()
		if int(cur) < a.maxBatchSize {
			a.current.Store(cur + 1)
		}
	}
}
