package dstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Checkpoint is the durable progress record for one migration run (C12).
type Checkpoint struct {
	RunID     string
	BatchID   int64
	Cursor    string
	Successes int64
	Failures  int64
	UpdatedAt time.Time
}

// ErrCheckpointNotFound is returned when a run id has no saved checkpoint.
var ErrCheckpointNotFound = errors.New("dstore: checkpoint not found")

// SaveCheckpoint upserts a migration run's progress, mirroring the
// teacher's JSONB upsert pattern (store.PostgresStore.SaveFunction)
// applied to a plain-column row.
func (c *Conn) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	_, err := c.Exec(ctx, `
		INSERT INTO migration_checkpoints (run_id, batch_id, cursor, successes, failures, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			cursor = EXCLUDED.cursor,
			successes = EXCLUDED.successes,
			failures = EXCLUDED.failures,
			updated_at = EXCLUDED.updated_at
	`, cp.RunID, cp.BatchID, cp.Cursor, cp.Successes, cp.Failures, cp.UpdatedAt)
	return err
}

// GetCheckpoint fetches a run's last saved progress.
func (c *Conn) GetCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	var cp Checkpoint
	row := c.QueryRow(ctx, `
		SELECT run_id, batch_id, cursor, successes, failures, updated_at
		FROM migration_checkpoints WHERE run_id = $1
	`, runID)
	if err := row.Scan(&cp.RunID, &cp.BatchID, &cp.Cursor, &cp.Successes, &cp.Failures, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	return &cp, nil
}
