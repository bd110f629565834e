package sync

import (
	"context"

	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/logging"
)

// Replay re-runs every non-terminal WAL entry returned by wal.Recover
// through syncOne, picking up a dual write interrupted mid-flight (e.g.
// a crash after the D-store write but before the V-store write, leaving
// status DCompleted), and marks the recovered entry Committed once its
// re-run succeeds. syncOne is idempotent from any point: re-running
// the D-store upsert and the V-store upsert are both safe no-ops when
// the prior attempt already succeeded.
func (c *Coordinator) Replay(ctx context.Context) (recovered int, err error) {
	pending := c.wal.Recover()
	for _, entry := range pending {
		logging.Op().Info("replaying incomplete sync entry", "entity_id", entry.Op.ID, "status", entry.Status.String())
		if rErr := c.syncOne(ctx, entry.Op); rErr != nil {
			logging.Op().Error("replay failed", "entity_id", entry.Op.ID, "error", rErr)
			err = rErr
			continue
		}
		if tErr := c.wal.Transition(entry.ID, domain.WALCommitted); tErr != nil {
			logging.Op().Warn("replayed wal entry could not be marked committed", "entity_id", entry.Op.ID, "error", tErr)
		}
		recovered++
	}
	return recovered, err
}
