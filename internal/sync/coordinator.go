// Package sync implements the dual-write coordinator (C10): it keeps the
// D-store (source of truth) and V-store (vector index) consistent for
// one entity at a time, journals every step through the write-ahead log
// (C9), and reports outcomes on a bounded event bus.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/dstore"
	"github.com/oriys/cortex/internal/logging"
	"github.com/oriys/cortex/internal/metrics"
	"github.com/oriys/cortex/internal/telemetry"
	"github.com/oriys/cortex/internal/vstore"
	"github.com/oriys/cortex/internal/wal"
)

// DStore is the subset of *dstore.Conn the coordinator writes through.
type DStore interface {
	UpsertMetadata(ctx context.Context, e dstore.Entity) error
	SetVectorSynced(ctx context.Context, id string, synced bool) error
}

// VStore is the subset of *vstore.Store the coordinator writes through.
type VStore interface {
	Upsert(ctx context.Context, collection string, p vstore.Point) error
}

// Config configures the coordinator, matching spec.md §6's Sync surface.
type Config struct {
	MaxBatchSize     int
	TargetLatencyMs  int64
	MaxConcurrentOps int
	Collection       string // V-store collection entities are synced into
}

// Coordinator performs dual writes and batch sync over a WAL, D-store,
// and V-store.
type Coordinator struct {
	wal   *wal.WAL
	d     DStore
	v     VStore
	bus   *EventBus
	cfg   Config
	batch *adaptiveBatcher
	sem   chan struct{}
	locks idLock
}

// New constructs a Coordinator.
func New(w *wal.WAL, d DStore, v VStore, bus *EventBus, cfg Config) *Coordinator {
	if cfg.MaxConcurrentOps <= 0 {
		cfg.MaxConcurrentOps = 8
	}
	return &Coordinator{
		wal:   w,
		d:     d,
		v:     v,
		bus:   bus,
		cfg:   cfg,
		batch: newAdaptiveBatcher(cfg.MaxBatchSize, cfg.TargetLatencyMs),
		sem:   make(chan struct{}, cfg.MaxConcurrentOps),
	}
}

// Sync performs the five-step dual write for one entity, per spec.md
// §4.10. The semaphore of width max_concurrent_ops throttles concurrency
// across concurrent Sync/BatchSync calls.
func (c *Coordinator) Sync(ctx context.Context, entity domain.SyncEntity) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()
	return c.syncOne(ctx, entity)
}

func (c *Coordinator) syncOne(ctx context.Context, entity domain.SyncEntity) error {
	unlock := c.locks.Lock(entity.ID)
	defer unlock()

	ctx, span := telemetry.StartSpan(ctx, "sync.Coordinator.syncOne",
		telemetry.AttrEntityID.String(entity.ID),
		telemetry.AttrCollection.String(c.cfg.Collection),
	)
	defer span.End()

	entry, err := c.wal.Append(entity)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("sync: append wal entry: %w", err)
	}

	now := time.Now()
	dErr := c.d.UpsertMetadata(ctx, dstore.Entity{
		ID:            entity.ID,
		EntityType:    entity.EntityType,
		TenantID:      entity.TenantID,
		Metadata:      entity.Metadata,
		ContentDigest: entity.ContentDigest,
		HasVector:     true,
		VectorSynced:  false,
		LastSyncedAt:  now,
		UpdatedAt:     now,
	})
	if dErr != nil {
		c.fail(entry.ID, entity.ID, fmt.Sprintf("d-store write failed: %v", dErr))
		err := fmt.Errorf("sync: d-store write: %w", dErr)
		telemetry.SetSpanError(span, err)
		return err
	}
	if err := c.wal.Transition(entry.ID, domain.WALDCompleted); err != nil {
		logging.Op().Warn("wal transition to d_completed failed", "entity_id", entity.ID, "error", err)
	}

	vErr := c.v.Upsert(ctx, c.cfg.Collection, vstore.Point{
		ID:            entity.ID,
		Vector:        entity.Vector,
		Metadata:      entity.Metadata,
		ContentDigest: entity.ContentDigest,
	})
	if vErr != nil {
		// Compensation: vector_synced is already false from the d-store
		// write above; re-assert it defensively and schedule for later
		// reconciliation via the consistency checker (C11).
		if cErr := c.d.SetVectorSynced(ctx, entity.ID, false); cErr != nil {
			logging.Op().Error("compensation failed to re-assert vector_synced=false", "entity_id", entity.ID, "error", cErr)
		}
		c.fail(entry.ID, entity.ID, fmt.Sprintf("v-store write failed: %v", vErr))
		err := fmt.Errorf("sync: v-store write: %w", vErr)
		telemetry.SetSpanError(span, err)
		return err
	}
	if err := c.wal.Transition(entry.ID, domain.WALVCompleted); err != nil {
		logging.Op().Warn("wal transition to v_completed failed", "entity_id", entity.ID, "error", err)
	}

	if err := c.d.SetVectorSynced(ctx, entity.ID, true); err != nil {
		c.fail(entry.ID, entity.ID, fmt.Sprintf("final vector_synced update failed: %v", err))
		wrapped := fmt.Errorf("sync: mark vector_synced: %w", err)
		telemetry.SetSpanError(span, wrapped)
		return wrapped
	}
	if err := c.wal.Transition(entry.ID, domain.WALCommitted); err != nil {
		logging.Op().Warn("wal transition to committed failed", "entity_id", entity.ID, "error", err)
	}
	telemetry.SetSpanOK(span)

	c.bus.Publish(domain.SyncEvent{Kind: domain.EventSynced, EntityID: entity.ID, Timestamp: time.Now()})
	return nil
}

// BatchSync processes entities with an adaptive batch size starting at
// max_batch_size, halving after every failed batch and gently growing after
// sustained success, subject to target_latency_ms. Entities within a
// batch are synced concurrently (bounded by the coordinator's shared
// semaphore); the batch fails as a unit for sizing purposes if any
// member fails, though every entity's individual error is still
// reported through its own WAL entry and event.
func (c *Coordinator) BatchSync(ctx context.Context, entities []domain.SyncEntity) []error {
	var errs []error
	for offset := 0; offset < len(entities); {
		size := c.batch.size()
		end := offset + size
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[offset:end]
		offset = end

		start := time.Now()
		results := make(chan error, len(batch))
		for _, e := range batch {
			go func(e domain.SyncEntity) { results <- c.Sync(ctx, e) }(e)
		}
		failed := false
		for range batch {
			if err := <-results; err != nil {
				errs = append(errs, err)
				failed = true
			}
		}
		metrics.SetSyncStats(0, size, len(entities)-offset)
		c.batch.record(time.Since(start), failed)
	}
	return errs
}

func (c *Coordinator) fail(walID uuid.UUID, entityID, detail string) {
	if err := c.wal.Transition(walID, domain.WALFailed); err != nil {
		logging.Op().Warn("wal transition to failed failed", "entity_id", entityID, "error", err)
	}
	c.bus.Publish(domain.SyncEvent{
		Kind:      domain.EventFailed,
		EntityID:  entityID,
		Timestamp: time.Now(),
		Detail:    detail,
	})
}
