package dstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/cortex/internal/db"
)

// Entity is the D-store's record of record for the storage core: the
// source-of-truth metadata for one entity, plus the bookkeeping fields
// the sync coordinator (C10) uses to track vector replication.
type Entity struct {
	ID            string
	EntityType    string
	TenantID      string
	Metadata      map[string]any
	ContentDigest string
	HasVector     bool
	VectorSynced  bool
	LastSyncedAt  time.Time
	UpdatedAt     time.Time
}

// ErrEntityNotFound is returned when an entity id has no row.
var ErrEntityNotFound = errors.New("dstore: entity not found")

// UpsertMetadata writes (or overwrites) an entity's metadata, following
// the teacher's JSONB upsert pattern (store.PostgresStore.SaveFunction).
func (c *Conn) UpsertMetadata(ctx context.Context, e Entity) error {
	data, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err = c.Exec(ctx, `
		INSERT INTO entities (id, entity_type, tenant_id, metadata, content_digest, has_vector, vector_synced, last_synced_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			tenant_id = EXCLUDED.tenant_id,
			metadata = EXCLUDED.metadata,
			content_digest = EXCLUDED.content_digest,
			has_vector = EXCLUDED.has_vector,
			vector_synced = EXCLUDED.vector_synced,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
	`, e.ID, e.EntityType, e.TenantID, data, e.ContentDigest, e.HasVector, e.VectorSynced, nullableTime(e.LastSyncedAt), e.UpdatedAt)
	return err
}

// GetEntity fetches one entity by id.
func (c *Conn) GetEntity(ctx context.Context, id string) (*Entity, error) {
	var e Entity
	var data []byte
	var lastSynced *time.Time
	row := c.QueryRow(ctx, `
		SELECT id, entity_type, tenant_id, metadata, content_digest, has_vector, vector_synced, last_synced_at, updated_at
		FROM entities WHERE id = $1
	`, id)
	if err := row.Scan(&e.ID, &e.EntityType, &e.TenantID, &data, &e.ContentDigest, &e.HasVector, &e.VectorSynced, &lastSynced, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	if lastSynced != nil {
		e.LastSyncedAt = *lastSynced
	}
	if err := json.Unmarshal(data, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

// SetVectorSynced updates only the vector_synced flag and last_synced_at
// timestamp for an entity, used by the sync coordinator's compensation
// path and its final commit step.
func (c *Conn) SetVectorSynced(ctx context.Context, id string, synced bool) error {
	_, err := c.Exec(ctx, `
		UPDATE entities SET vector_synced = $2, last_synced_at = $3 WHERE id = $1
	`, id, synced, time.Now())
	return err
}

// ListIDs streams every entity id, optionally scoped to tenantID (when
// non-empty), for the consistency checker (C11) and migration engine
// (C12) to walk without materializing the full set in memory.
func (c *Conn) ListIDs(ctx context.Context, tenantID string) (<-chan string, <-chan error) {
	ids := make(chan string, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(ids)
		defer close(errs)

		var rows db.Rows
		var err error
		if tenantID == "" {
			rows, err = c.Query(ctx, `SELECT id FROM entities ORDER BY id`)
		} else {
			rows, err = c.Query(ctx, `SELECT id FROM entities WHERE tenant_id = $1 ORDER BY id`, tenantID)
		}
		if err != nil {
			errs <- err
			return
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				errs <- err
				return
			}
			select {
			case ids <- id:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			errs <- err
		}
	}()

	return ids, errs
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
