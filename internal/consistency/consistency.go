// Package consistency implements the consistency checker (C11):
// single-entity verification, a full entity-class sweep using a Bloom
// filter and an optional Merkle tree, and a repair planner. Grounded on
// github.com/bits-and-blooms/bloom/v3 (present in the reference corpus's
// dependency surface) and the standard library's crypto/sha256 for the
// Merkle tree, since no example repo carries a dedicated Merkle library.
package consistency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/dstore"
	"github.com/oriys/cortex/internal/sync"
	"github.com/oriys/cortex/internal/vstore"
)

// DStore is the subset of *dstore.Conn the checker reads from.
type DStore interface {
	GetEntity(ctx context.Context, id string) (*dstore.Entity, error)
	ListIDs(ctx context.Context, tenantID string) (<-chan string, <-chan error)
}

// VStore is the subset of *vstore.Store the checker reads from.
type VStore interface {
	Get(ctx context.Context, collection, id string) (*vstore.Point, error)
	ListIDs(ctx context.Context, collection string, filter func(vstore.Point) bool) (<-chan string, <-chan error)
	Delete(ctx context.Context, collection, id string) error
}

// Config matches spec.md §6's Consistency surface.
type Config struct {
	SampleRate       float64 // 1.0 = check everything
	EnableMerkle     bool
	EnableBloom      bool
	BloomFPR         float64 // default 0.01
	EnableAutoRepair bool
	BatchSize        int
}

// Checker verifies agreement between the D-store and the V-store.
type Checker struct {
	d           DStore
	v           VStore
	coordinator *sync.Coordinator
	cfg         Config
}

// New constructs a Checker. coordinator is used by Repair to re-sync
// entities via C10; it may be nil if the caller only needs read-only
// verification (Repair then returns an error for MissingVector and
// Mismatch, while orphan deletion still works).
func New(d DStore, v VStore, coordinator *sync.Coordinator, cfg Config) *Checker {
	if cfg.BloomFPR <= 0 {
		cfg.BloomFPR = 0.01
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	return &Checker{d: d, v: v, coordinator: coordinator, cfg: cfg}
}

// CheckEntity verifies a single entity, per spec.md §4.11.
func (c *Checker) CheckEntity(ctx context.Context, collection, id string) (domain.ConsistencyStatus, error) {
	entity, dErr := c.d.GetEntity(ctx, id)
	if dErr != nil {
		if dErr == dstore.ErrEntityNotFound {
			if _, vErr := c.v.Get(ctx, collection, id); vErr == nil {
				return domain.StatusOrphanVector, nil
			}
			return domain.StatusNotFound, nil
		}
		return 0, dErr
	}

	if !entity.HasVector || !entity.VectorSynced {
		return domain.StatusMissingVector, nil
	}

	point, vErr := c.v.Get(ctx, collection, id)
	if vErr == vstore.ErrNotFound {
		return domain.StatusMissingVector, nil
	}
	if vErr != nil {
		return 0, vErr
	}

	if entity.ContentDigest != point.ContentDigest {
		return domain.StatusMismatch, nil
	}
	return domain.StatusConsistent, nil
}

// Report summarizes a full entity-class check.
type Report struct {
	Total       int
	Consistent  int
	Mismatched  []string
	Missing     []string
	Orphaned    []string
	NotFound    []string
	Sampled     bool
	MerkleMatch *bool // nil when Merkle verification was not run
}

// FullCheck streams every D-store id (optionally scoped to tenantID),
// probes a Bloom filter built over the V-store's ids before issuing any
// V-store query, and optionally cross-checks with a Merkle tree over
// (id, digest) pairs.
func (c *Checker) FullCheck(ctx context.Context, collection, tenantID string) (*Report, error) {
	bf, err := c.buildBloom(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("consistency: build bloom filter: %w", err)
	}

	report := &Report{Sampled: c.cfg.SampleRate < 1.0}

	ids, errs := c.d.ListIDs(ctx, tenantID)
	var dPairs, vPairs []digestPair

	for id := range ids {
		if c.cfg.SampleRate < 1.0 && rand.Float64() > c.cfg.SampleRate {
			continue
		}
		report.Total++

		entity, err := c.d.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		dPairs = append(dPairs, digestPair{ID: id, Digest: entity.ContentDigest})

		if !entity.HasVector || !entity.VectorSynced {
			report.Missing = append(report.Missing, id)
			continue
		}

		if c.cfg.EnableBloom && bf != nil && !bf.TestString(id) {
			report.Missing = append(report.Missing, id)
			continue
		}

		point, vErr := c.v.Get(ctx, collection, id)
		if vErr == vstore.ErrNotFound {
			report.Missing = append(report.Missing, id)
			continue
		}
		if vErr != nil {
			continue
		}
		vPairs = append(vPairs, digestPair{ID: id, Digest: point.ContentDigest})

		if entity.ContentDigest != point.ContentDigest {
			report.Mismatched = append(report.Mismatched, id)
			continue
		}
		report.Consistent++
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("consistency: stream d-store ids: %w", err)
	}

	if c.cfg.EnableMerkle {
		match := merkleRoot(dPairs) == merkleRoot(vPairs)
		report.MerkleMatch = &match
	}

	return report, nil
}

func (c *Checker) buildBloom(ctx context.Context, collection string) (*bloom.BloomFilter, error) {
	if !c.cfg.EnableBloom {
		return nil, nil
	}
	ids, errs := c.v.ListIDs(ctx, collection, nil)
	var collected []string
	for id := range ids {
		collected = append(collected, id)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	n := uint(len(collected))
	if n == 0 {
		n = 1
	}
	bf := bloom.NewWithEstimates(n, c.cfg.BloomFPR)
	for _, id := range collected {
		bf.AddString(id)
	}
	return bf, nil
}

// Repair schedules the appropriate fix for status on id: upsert the
// vector from the D-store (MissingVector, Mismatch), delete the orphan
// vector (OrphanVector), or do nothing (Consistent, NotFound). Every
// branch is idempotent and safe to retry.
func (c *Checker) Repair(ctx context.Context, collection, id string, status domain.ConsistencyStatus) error {
	switch status {
	case domain.StatusMissingVector, domain.StatusMismatch:
		if c.coordinator == nil {
			return fmt.Errorf("consistency: repair requires a sync coordinator")
		}
		entity, err := c.d.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		return c.coordinator.Sync(ctx, domain.SyncEntity{
			ID:            entity.ID,
			EntityType:    entity.EntityType,
			Metadata:      entity.Metadata,
			ContentDigest: entity.ContentDigest,
			TenantID:      entity.TenantID,
		})
	case domain.StatusOrphanVector:
		return c.v.Delete(ctx, collection, id)
	default:
		return nil
	}
}

type digestPair struct {
	ID     string
	Digest string
}

// merkleRoot builds a Merkle tree over ordered (id, digest) pairs and
// returns the root hash. An empty input yields the hash of nothing,
// which compares equal only to another empty set.
func merkleRoot(pairs []digestPair) string {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })

	leaves := make([][32]byte, len(pairs))
	for i, p := range pairs {
		buf, _ := json.Marshal(p)
		leaves[i] = sha256.Sum256(buf)
	}
	if len(leaves) == 0 {
		return hex.EncodeToString(sha256.New().Sum(nil))
	}

	level := leaves
	for len(level) > 1 {
		var next [][32]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				combined := append(append([]byte{}, level[i][:]...), level[i+1][:]...)
				next = append(next, sha256.Sum256(combined))
			} else {
				next = append(next, level[i]) // odd node carries up unchanged
			}
		}
		level = next
	}
	return hex.EncodeToString(level[0][:])
}
