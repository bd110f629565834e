package consistency

import (
	"context"
	"sync"
	"testing"

	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/dstore"
	"github.com/oriys/cortex/internal/vstore"
)

type fakeDStore struct {
	mu       sync.Mutex
	entities map[string]dstore.Entity
}

func newFakeDStore() *fakeDStore { return &fakeDStore{entities: make(map[string]dstore.Entity)} }

func (f *fakeDStore) GetEntity(ctx context.Context, id string) (*dstore.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, dstore.ErrEntityNotFound
	}
	return &e, nil
}

func (f *fakeDStore) ListIDs(ctx context.Context, tenantID string) (<-chan string, <-chan error) {
	ids := make(chan string)
	errs := make(chan error, 1)
	f.mu.Lock()
	var all []string
	for id := range f.entities {
		all = append(all, id)
	}
	f.mu.Unlock()
	go func() {
		defer close(ids)
		defer close(errs)
		for _, id := range all {
			ids <- id
		}
	}()
	return ids, errs
}

type fakeVStore struct {
	mu     sync.Mutex
	points map[string]vstore.Point
}

func newFakeVStore() *fakeVStore { return &fakeVStore{points: make(map[string]vstore.Point)} }

func (f *fakeVStore) Get(ctx context.Context, collection, id string) (*vstore.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[id]
	if !ok {
		return nil, vstore.ErrNotFound
	}
	return &p, nil
}

func (f *fakeVStore) ListIDs(ctx context.Context, collection string, filter func(vstore.Point) bool) (<-chan string, <-chan error) {
	ids := make(chan string)
	errs := make(chan error, 1)
	f.mu.Lock()
	var all []string
	for id := range f.points {
		all = append(all, id)
	}
	f.mu.Unlock()
	go func() {
		defer close(ids)
		defer close(errs)
		for _, id := range all {
			ids <- id
		}
	}()
	return ids, errs
}

func (f *fakeVStore) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.points, id)
	return nil
}

func TestCheckEntityConsistent(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	d.entities["e1"] = dstore.Entity{ID: "e1", HasVector: true, VectorSynced: true, ContentDigest: "abc"}
	v.points["e1"] = vstore.Point{ID: "e1", ContentDigest: "abc"}

	c := New(d, v, nil, Config{})
	status, err := c.CheckEntity(context.Background(), "docs", "e1")
	if err != nil {
		t.Fatalf("CheckEntity: %v", err)
	}
	if status != domain.StatusConsistent {
		t.Fatalf("expected Consistent, got %v", status)
	}
}

func TestCheckEntityMismatch(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	d.entities["e1"] = dstore.Entity{ID: "e1", HasVector: true, VectorSynced: true, ContentDigest: "abc"}
	v.points["e1"] = vstore.Point{ID: "e1", ContentDigest: "zzz"}

	c := New(d, v, nil, Config{})
	status, err := c.CheckEntity(context.Background(), "docs", "e1")
	if err != nil {
		t.Fatalf("CheckEntity: %v", err)
	}
	if status != domain.StatusMismatch {
		t.Fatalf("expected Mismatch, got %v", status)
	}
}

func TestCheckEntityMissingVector(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	d.entities["e1"] = dstore.Entity{ID: "e1", HasVector: true, VectorSynced: true, ContentDigest: "abc"}
	// v-store has no point for e1.

	c := New(d, v, nil, Config{})
	status, err := c.CheckEntity(context.Background(), "docs", "e1")
	if err != nil {
		t.Fatalf("CheckEntity: %v", err)
	}
	if status != domain.StatusMissingVector {
		t.Fatalf("expected MissingVector, got %v", status)
	}
}

func TestCheckEntityOrphanVector(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	v.points["e1"] = vstore.Point{ID: "e1", ContentDigest: "abc"}
	// d-store has no entity for e1.

	c := New(d, v, nil, Config{})
	status, err := c.CheckEntity(context.Background(), "docs", "e1")
	if err != nil {
		t.Fatalf("CheckEntity: %v", err)
	}
	if status != domain.StatusOrphanVector {
		t.Fatalf("expected OrphanVector, got %v", status)
	}
}

func TestCheckEntityNotFound(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	c := New(d, v, nil, Config{})
	status, err := c.CheckEntity(context.Background(), "docs", "missing")
	if err != nil {
		t.Fatalf("CheckEntity: %v", err)
	}
	if status != domain.StatusNotFound {
		t.Fatalf("expected NotFound, got %v", status)
	}
}

func TestFullCheckCountsEachStatus(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	d.entities["consistent"] = dstore.Entity{ID: "consistent", HasVector: true, VectorSynced: true, ContentDigest: "a"}
	v.points["consistent"] = vstore.Point{ID: "consistent", ContentDigest: "a"}

	d.entities["mismatched"] = dstore.Entity{ID: "mismatched", HasVector: true, VectorSynced: true, ContentDigest: "a"}
	v.points["mismatched"] = vstore.Point{ID: "mismatched", ContentDigest: "b"}

	d.entities["missing"] = dstore.Entity{ID: "missing", HasVector: true, VectorSynced: true, ContentDigest: "a"}

	c := New(d, v, nil, Config{EnableBloom: true, EnableMerkle: true})
	report, err := c.FullCheck(context.Background(), "docs", "")
	if err != nil {
		t.Fatalf("FullCheck: %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 total, got %d", report.Total)
	}
	if report.Consistent != 1 {
		t.Fatalf("expected 1 consistent, got %d", report.Consistent)
	}
	if len(report.Mismatched) != 1 || report.Mismatched[0] != "mismatched" {
		t.Fatalf("expected 1 mismatch, got %v", report.Mismatched)
	}
	if len(report.Missing) != 1 || report.Missing[0] != "missing" {
		t.Fatalf("expected 1 missing, got %v", report.Missing)
	}
	if report.MerkleMatch == nil || *report.MerkleMatch {
		t.Fatal("expected merkle roots to differ given the mismatch")
	}
}

func TestRepairDeletesOrphanVector(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	v.points["orphan"] = vstore.Point{ID: "orphan"}

	c := New(d, v, nil, Config{})
	if err := c.Repair(context.Background(), "docs", "orphan", domain.StatusOrphanVector); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if _, ok := v.points["orphan"]; ok {
		t.Fatal("expected orphan point to be deleted")
	}
}

func TestRepairWithoutCoordinatorErrors(t *testing.T) {
	d, v := newFakeDStore(), newFakeVStore()
	d.entities["e1"] = dstore.Entity{ID: "e1"}
	c := New(d, v, nil, Config{})
	if err := c.Repair(context.Background(), "docs", "e1", domain.StatusMissingVector); err == nil {
		t.Fatal("expected an error when repairing without a coordinator")
	}
}
