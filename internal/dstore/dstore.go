// Package dstore implements the D-store connection primitive: the
// structured side of the dual-backend storage core, backed by PostgreSQL
// through pgx. It satisfies internal/db's Executor and Tx interfaces (not
// Database: it has Begin rather than BeginTx) so the pool's transaction
// API (internal/conn) is a thin wrapper over it.
package dstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/cortex/internal/db"
)

// Conn is a single physical D-store connection, acquired from a pgxpool.
// It implements db.Executor directly and db.Tx once Begin has been called.
type Conn struct {
	raw *pgxpool.Conn
	tx  pgx.Tx // non-nil while a transaction is open
}

// Dial opens a pool-backed connection to the D-store at dsn and checks out
// a single physical connection, mirroring the teacher's
// NewPostgresStore(ctx, dsn) construction followed by an immediate ping.
func Dial(ctx context.Context, dsn string) (*Conn, func() error, error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("dstore: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("dstore: create pool: %w", err)
	}
	raw, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("dstore: acquire connection: %w", err)
	}
	if err := raw.Ping(ctx); err != nil {
		raw.Release()
		pool.Close()
		return nil, nil, fmt.Errorf("dstore: ping: %w", err)
	}
	c := &Conn{raw: raw}
	closer := func() error {
		raw.Release()
		pool.Close()
		return nil
	}
	return c, closer, nil
}

// Exec executes a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	var (
		tag pgconn_CommandTag
		err error
	)
	if c.tx != nil {
		tag, err = c.tx.Exec(ctx, sql, args...)
	} else {
		tag, err = c.raw.Exec(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	return pgResult{tag}, nil
}

// QueryRow executes a query expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	if c.tx != nil {
		return c.tx.QueryRow(ctx, sql, args...)
	}
	return c.raw.QueryRow(ctx, sql, args...)
}

// Query executes a query that may return multiple rows.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, sql, args...)
	} else {
		rows, err = c.raw.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

// Ping verifies the connection is still reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx)
}

// Close releases the underlying physical connection back to its pool.
func (c *Conn) Close() error {
	c.raw.Release()
	return nil
}

// DriverName reports the D-store driver in use.
func (c *Conn) DriverName() string { return "postgres" }

// InTransaction reports whether Begin has opened a transaction not yet
// committed or rolled back.
func (c *Conn) InTransaction() bool { return c.tx != nil }

// Begin starts a transaction, recording it as the active executor target
// for subsequent Exec/QueryRow/Query calls on this Conn.
func (c *Conn) Begin(ctx context.Context, opts *db.TxOptions) (db.Tx, error) {
	pgxOpts := pgx.TxOptions{}
	if opts != nil {
		if opts.ReadOnly {
			pgxOpts.AccessMode = pgx.ReadOnly
		}
		switch opts.IsolationLevel {
		case "serializable":
			pgxOpts.IsoLevel = pgx.Serializable
		case "repeatable_read":
			pgxOpts.IsoLevel = pgx.RepeatableRead
		case "read_committed":
			pgxOpts.IsoLevel = pgx.ReadCommitted
		}
	}
	tx, err := c.raw.BeginTx(ctx, pgxOpts)
	if err != nil {
		return nil, fmt.Errorf("dstore: begin: %w", err)
	}
	c.tx = tx
	return c, nil
}

// Commit commits the active transaction.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("dstore: commit without an open transaction")
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return err
}

// Rollback rolls back the active transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("dstore: rollback without an open transaction")
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	return err
}

// Savepoint establishes a named savepoint within the active transaction.
func (c *Conn) Savepoint(ctx context.Context, name string) error {
	if c.tx == nil {
		return fmt.Errorf("dstore: savepoint without an open transaction")
	}
	_, err := c.tx.Exec(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

// RollbackToSavepoint rolls back to a previously established savepoint.
func (c *Conn) RollbackToSavepoint(ctx context.Context, name string) error {
	if c.tx == nil {
		return fmt.Errorf("dstore: rollback to savepoint without an open transaction")
	}
	_, err := c.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

type pgconn_CommandTag = interface{ RowsAffected() int64 }

type pgResult struct{ tag pgconn_CommandTag }

func (r pgResult) RowsAffected() int64 { return r.tag.RowsAffected() }

type pgRows struct{ rows pgx.Rows }

func (r pgRows) Next() bool             { return r.rows.Next() }
func (r pgRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgRows) Err() error             { return r.rows.Err() }
func (r pgRows) Close()                 { r.rows.Close() }
