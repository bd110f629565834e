package dstore

import "context"

// EnsureSchema creates the tables the storage core depends on if they do
// not already exist, following the teacher's ensureSchema idempotent-DDL
// pattern (PostgresStore.ensureSchema).
func (c *Conn) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL,
			content_digest TEXT NOT NULL,
			has_vector BOOLEAN NOT NULL DEFAULT FALSE,
			vector_synced BOOLEAN NOT NULL DEFAULT FALSE,
			last_synced_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS entities_tenant_idx ON entities (tenant_id)`,
		`CREATE TABLE IF NOT EXISTS migration_checkpoints (
			run_id TEXT PRIMARY KEY,
			batch_id BIGINT NOT NULL DEFAULT 0,
			cursor TEXT NOT NULL,
			successes BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
