// Package wal implements the write-ahead log (C9): a crash-safe,
// append-only durable log of sync operations. It generalizes the
// teacher's checkpoint.Store (internal/checkpoint/store.go, an in-memory
// map with a TTL sweep) by keeping the same in-memory index for fast
// lookups but backing it with an on-disk, newline-delimited JSON segment
// file so entries survive a crash, plus a recover() scan and a
// checkpoint() compaction pass in place of the teacher's TTL eviction.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/metrics"
)

const segmentFileName = "wal.log"

// record is the on-disk, self-describing shape of one WAL write. Every
// status transition appends a new record for the same ID; recovery keeps
// only the latest record per ID, so record boundaries only need to be
// detectable, not edited in place.
type record struct {
	ID        uuid.UUID         `json:"id"`
	Op        domain.SyncEntity `json:"op"`
	Status    domain.WALStatus  `json:"status"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
}

// WAL is a durable, append-only log. Safe for concurrent use.
type WAL struct {
	dir  string
	path string

	mu    sync.Mutex
	file  *os.File
	index map[uuid.UUID]*domain.WALEntry
}

// Open opens (creating if absent) the WAL segment under dir and scans it
// to rebuild the in-memory index. Callers should follow Open with
// Recover to obtain entries needing replay after a crash.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	path := filepath.Join(dir, segmentFileName)

	index, err := scan(path)
	if err != nil {
		return nil, fmt.Errorf("scan wal segment: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal segment: %w", err)
	}

	w := &WAL{dir: dir, path: path, file: f, index: index}
	w.reportSize()
	return w, nil
}

// scan reads every complete record in the segment file, keeping the
// latest one per ID. A truncated final line (a partial write interrupted
// by a crash) is discarded rather than treated as an error, since record
// boundaries are newline-delimited and an unterminated line was never
// durably committed.
func scan(path string) (map[uuid.UUID]*domain.WALEntry, error) {
	index := make(map[uuid.UUID]*domain.WALEntry)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			continue // partial/corrupt trailing record; skip
		}
		index[r.ID] = &domain.WALEntry{
			ID:        r.ID,
			Op:        r.Op,
			Status:    r.Status,
			Attempts:  r.Attempts,
			CreatedAt: r.CreatedAt,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return index, nil
}

// Append writes a new Pending entry for op and returns it.
func (w *WAL) Append(op domain.SyncEntity) (*domain.WALEntry, error) {
	entry := &domain.WALEntry{
		ID:        uuid.New(),
		Op:        op,
		Status:    domain.WALPending,
		CreatedAt: time.Now(),
	}
	if err := w.writeAndIndex(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Transition appends a status-transition record for an existing entry
// and increments its attempt count when moving to Failed (a retry).
func (w *WAL) Transition(id uuid.UUID, status domain.WALStatus) error {
	w.mu.Lock()
	existing, ok := w.index[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("wal: no entry %s", id)
	}

	updated := *existing
	updated.Status = status
	if status == domain.WALFailed {
		updated.Attempts++
	}
	return w.writeAndIndex(&updated)
}

func (w *WAL) writeAndIndex(entry *domain.WALEntry) error {
	start := time.Now()
	buf, err := json.Marshal(record{
		ID:        entry.ID,
		Op:        entry.Op,
		Status:    entry.Status,
		Attempts:  entry.Attempts,
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("append wal record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal segment: %w", err)
	}
	entryCopy := *entry
	w.index[entry.ID] = &entryCopy

	metrics.RecordWALAppend(float64(time.Since(start).Milliseconds()))
	w.reportSizeLocked()
	return nil
}

// Recover returns every non-terminal entry, ordered by created_at, for
// the sync coordinator to replay or compensate.
func (w *WAL) Recover() []domain.WALEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []domain.WALEntry
	for _, e := range w.index {
		if !e.Status.Terminal() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the current entry for id, if present.
func (w *WAL) Get(id uuid.UUID) (domain.WALEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.index[id]
	if !ok {
		return domain.WALEntry{}, false
	}
	return *e, true
}

// Checkpoint reclaims space for Committed entries older than olderThan by
// compacting the segment file: every entry except a Committed one created
// before the cutoff is rewritten (Failed entries are kept at any age); reclaimed
// Committed entries are removed from the in-memory index entirely, per
// spec.md §4.9 ("Remove WAL entry at checkpoint").
func (w *WAL) Checkpoint(olderThan time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := make(map[uuid.UUID]*domain.WALEntry, len(w.index))
	for id, e := range w.index {
		if e.Status == domain.WALCommitted && e.CreatedAt.Before(cutoff) {
			continue // reclaimed
		}
		kept[id] = e
	}

	tmpPath := w.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}

	writer := bufio.NewWriter(tmp)
	for _, e := range kept {
		buf, err := json.Marshal(record{
			ID: e.ID, Op: e.Op, Status: e.Status, Attempts: e.Attempts, CreatedAt: e.CreatedAt,
		})
		if err != nil {
			tmp.Close()
			return err
		}
		buf = append(buf, '\n')
		if _, err := writer.Write(buf); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("install compacted wal segment: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen wal segment after checkpoint: %w", err)
	}
	w.file = f
	w.index = kept
	w.reportSizeLocked()
	return nil
}

// Close releases the segment file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *WAL) reportSize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reportSizeLocked()
}

func (w *WAL) reportSizeLocked() {
	if info, err := os.Stat(w.path); err == nil {
		metrics.SetWALSegmentBytes(info.Size())
	}
}
