// Package conn implements the pooled connection (C6): a scoped loan over
// a single D-store physical connection, generalizing the teacher's
// PooledVM handle (internal/pool.PooledVM) from "VM borrowed for one
// invocation" to "D-store connection borrowed for one caller".
package conn

import (
	"context"
	"time"

	"github.com/oriys/cortex/internal/db"
	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/logging"
)

// Releaser returns a connection to its owning pool. internal/pool supplies
// the concrete implementation; Conn holds only the interface so this
// package has no import-cycle back to pool.
type Releaser interface {
	Release(c *Conn)
}

// RawConn is what a D-store driver must provide to back a pooled
// connection. internal/dstore.Conn (pgx-backed) implements this; tests
// can substitute a fake without touching a real Postgres connection.
type RawConn interface {
	db.Executor
	Ping(ctx context.Context) error
	Close() error
	Begin(ctx context.Context, opts *db.TxOptions) (db.Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
}

// Conn is a scoped loan over a raw D-store connection.
//
// Drop/scope-exit: callers must call Close when finished with the loan.
// If a transaction is open at that point without an explicit Commit, Close
// aborts it first — a connection must never re-enter the pool mid-transaction.
type Conn struct {
	raw   RawConn
	State *domain.Connection
	pool  Releaser

	inTxn bool
}

// New wraps a raw D-store connection and its pool bookkeeping record into
// a loan. Called by internal/pool when handing out a connection.
func New(raw RawConn, state *domain.Connection, pool Releaser) *Conn {
	return &Conn{raw: raw, State: state, pool: pool}
}

// Raw exposes the underlying D-store connection handle for callers that
// need direct query access outside the transaction API.
func (c *Conn) Raw() RawConn { return c.raw }

// CheckHealth runs a lightweight liveness probe on the connection.
func (c *Conn) CheckHealth(ctx context.Context) bool {
	return c.raw.Ping(ctx) == nil
}

// MarkForRecycling flags the connection to be closed rather than returned
// to the idle set on Close, regardless of use_count or age.
func (c *Conn) MarkForRecycling() {
	c.State.MarkedForRecycling = true
}

// Begin starts a transaction on the underlying connection.
func (c *Conn) Begin(ctx context.Context) error {
	if _, err := c.raw.Begin(ctx, nil); err != nil {
		return err
	}
	c.inTxn = true
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit(ctx context.Context) error {
	err := c.raw.Commit(ctx)
	c.inTxn = false
	return err
}

// Rollback aborts the open transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	err := c.raw.Rollback(ctx)
	c.inTxn = false
	return err
}

// Savepoint establishes a named savepoint within the open transaction.
func (c *Conn) Savepoint(ctx context.Context, name string) error {
	return c.raw.Savepoint(ctx, name)
}

// RollbackToSavepoint rolls back to a previously established savepoint
// without aborting the enclosing transaction.
func (c *Conn) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.raw.RollbackToSavepoint(ctx, name)
}

// WithTransaction runs fn inside a transaction. On a nil return, the
// transaction commits; on a non-nil return, the core attempts a rollback.
// A rollback failure is logged and does not mask the original error.
func (c *Conn) WithTransaction(ctx context.Context, fn func(db.Tx) error) (err error) {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := c.Rollback(ctx); rbErr != nil {
				logging.Op().Error("rollback failed after transaction error", "error", rbErr, "original_error", err)
			}
		}
	}()

	if err = fn(c.raw); err != nil {
		return err
	}
	return c.Commit(ctx)
}

// Close returns the connection to its pool. If a transaction is open
// without an explicit Commit, it is aborted first.
func (c *Conn) Close(ctx context.Context) {
	if c.inTxn {
		if err := c.Rollback(ctx); err != nil {
			logging.Op().Error("abort of dangling transaction failed on connection close", "error", err, "connection_id", c.State.ID)
		}
	}
	c.State.LastUsedAt = time.Now()
	c.State.UseCount++
	if c.pool != nil {
		c.pool.Release(c)
	}
}
