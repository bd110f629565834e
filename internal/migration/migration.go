// Package migration implements the migration engine (C12): a resumable,
// adaptively-batched, parallel copy of every vector for an entity class
// from the D-store into the V-store, with checkpointing and optional
// post-migration verification via the consistency checker (C11).
package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/cortex/internal/consistency"
	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/dstore"
	"github.com/oriys/cortex/internal/logging"
	"github.com/oriys/cortex/internal/metrics"
	syncer "github.com/oriys/cortex/internal/sync"
	"github.com/oriys/cortex/internal/telemetry"
	"github.com/oriys/cortex/internal/vstore"
)

// DStore is the subset of *dstore.Conn the engine reads the source entity
// class from.
type DStore interface {
	GetEntity(ctx context.Context, id string) (*dstore.Entity, error)
	ListIDs(ctx context.Context, tenantID string) (<-chan string, <-chan error)
	SaveCheckpoint(ctx context.Context, cp dstore.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (*dstore.Checkpoint, error)
}

// Config matches spec.md §6's Migration surface.
type Config struct {
	RunID                string
	TenantID             string // optional scope
	Collection           string
	BatchSize            int
	BatchFloor           int
	BatchCeiling         int
	TargetLatency        time.Duration
	CheckpointInterval   int // persist a checkpoint every N batches
	ResumeFromCheckpoint bool
	Workers              int
	Verify               bool
	DryRun               bool
}

// Report is the final outcome of a migration run.
type Report struct {
	RunID      string
	Status     string // "completed", "completed_with_failures", "dry_run"
	Total      int64
	Successes  int64
	Failures   int64
	Duration   time.Duration
	Throughput float64 // entities/sec
	Verify     *consistency.Report
}

// Engine runs one migration at a time per instance.
type Engine struct {
	d       DStore
	v       *vstore.Store
	syncer  *syncer.Coordinator
	checker *consistency.Checker
	cfg     Config
}

// New constructs an Engine. checker may be nil when Config.Verify is false.
func New(d DStore, v *vstore.Store, sy *syncer.Coordinator, checker *consistency.Checker, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchFloor <= 0 {
		cfg.BatchFloor = 1
	}
	if cfg.BatchCeiling <= 0 {
		cfg.BatchCeiling = cfg.BatchSize * 4
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 10
	}
	return &Engine{d: d, v: v, syncer: sy, checker: checker, cfg: cfg}
}

// Run migrates every id the D-store reports for cfg.TenantID (or every
// id, if empty) into the V-store, batch by batch, with adaptive sizing,
// periodic checkpointing, and optional resumption.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: e.cfg.RunID}

	var resumeCursor string
	batchID := int64(0)
	var successes, failures int64

	if e.cfg.ResumeFromCheckpoint {
		cp, err := e.d.GetCheckpoint(ctx, e.cfg.RunID)
		if err != nil && err != dstore.ErrCheckpointNotFound {
			return nil, fmt.Errorf("migration: load checkpoint: %w", err)
		}
		if cp != nil {
			resumeCursor = cp.Cursor
			batchID = cp.BatchID
			successes = cp.Successes
			failures = cp.Failures
			logging.Op().Info("resuming migration", "run_id", e.cfg.RunID, "cursor", resumeCursor, "batch_id", batchID)
		}
	}

	ids, errs := e.d.ListIDs(ctx, e.cfg.TenantID)
	batcher := newAdaptiveBatchSize(e.cfg.BatchSize, e.cfg.BatchFloor, e.cfg.BatchCeiling, e.cfg.TargetLatency)

	skipping := resumeCursor != ""
	batchesSinceCheckpoint := 0
	var lastCursor string

	buf := make([]string, 0, batcher.size())
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		batchID++
		size := len(buf)
		t0 := time.Now()
		s, f := e.runBatch(ctx, buf)
		elapsed := time.Since(t0)

		successes += int64(s)
		failures += int64(f)
		report.Total += int64(size)
		lastCursor = buf[len(buf)-1]
		batcher.record(elapsed)
		batchesSinceCheckpoint++

		metrics.SetMigrationProgress(e.cfg.RunID, float64(report.Total))

		if !e.cfg.DryRun && batchesSinceCheckpoint >= e.cfg.CheckpointInterval {
			if err := e.d.SaveCheckpoint(ctx, dstore.Checkpoint{
				RunID: e.cfg.RunID, BatchID: batchID, Cursor: lastCursor,
				Successes: successes, Failures: failures,
			}); err != nil {
				logging.Op().Warn("migration checkpoint save failed", "run_id", e.cfg.RunID, "error", err)
			}
			batchesSinceCheckpoint = 0
		}

		buf = buf[:0]
		return nil
	}

	for id := range ids {
		if skipping {
			if id == resumeCursor {
				skipping = false
			}
			continue
		}
		buf = append(buf, id)
		if len(buf) >= batcher.size() {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("migration: stream ids: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if !e.cfg.DryRun {
		if err := e.d.SaveCheckpoint(ctx, dstore.Checkpoint{
			RunID: e.cfg.RunID, BatchID: batchID, Cursor: lastCursor,
			Successes: successes, Failures: failures,
		}); err != nil {
			logging.Op().Warn("final migration checkpoint save failed", "run_id", e.cfg.RunID, "error", err)
		}
	}

	report.Successes = successes
	report.Failures = failures
	report.Duration = time.Since(start)
	if report.Duration > 0 {
		report.Throughput = float64(report.Total) / report.Duration.Seconds()
	}
	switch {
	case e.cfg.DryRun:
		report.Status = "dry_run"
	case failures > 0:
		report.Status = "completed_with_failures"
	default:
		report.Status = "completed"
	}

	if e.cfg.Verify && e.checker != nil && !e.cfg.DryRun {
		verifyReport, err := e.checker.FullCheck(ctx, e.cfg.Collection, e.cfg.TenantID)
		if err != nil {
			logging.Op().Warn("post-migration verification failed", "run_id", e.cfg.RunID, "error", err)
		} else {
			report.Verify = verifyReport
		}
	}

	return report, nil
}

// runBatch migrates one batch's worth of ids in parallel, bounded by
// cfg.Workers. In dry-run mode, no writes happen; only ids are counted.
func (e *Engine) runBatch(ctx context.Context, ids []string) (successes, failures int) {
	ctx, span := telemetry.StartSpan(ctx, "migration.Engine.runBatch",
		telemetry.AttrRunID.String(e.cfg.RunID),
		telemetry.AttrBatchSize.Int(len(ids)),
	)
	defer span.End()

	sem := make(chan struct{}, e.cfg.Workers)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ok := e.migrateOne(ctx, id)
			mu.Lock()
			if ok {
				successes++
			} else {
				failures++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if failures > 0 {
		telemetry.SetSpanError(span, fmt.Errorf("migration: %d/%d entities failed in batch", failures, len(ids)))
	} else {
		telemetry.SetSpanOK(span)
	}
	return successes, failures
}

func (e *Engine) migrateOne(ctx context.Context, id string) bool {
	if e.cfg.DryRun {
		return true
	}
	entity, err := e.d.GetEntity(ctx, id)
	if err != nil {
		logging.Op().Error("migration fetch failed", "id", id, "error", err)
		return false
	}
	if err := e.syncer.Sync(ctx, domain.SyncEntity{
		ID:            entity.ID,
		EntityType:    entity.EntityType,
		Metadata:      entity.Metadata,
		ContentDigest: entity.ContentDigest,
		TenantID:      entity.TenantID,
	}); err != nil {
		logging.Op().Error("migration sync failed", "id", id, "error", err)
		return false
	}
	return true
}
