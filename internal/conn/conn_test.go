package conn

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/cortex/internal/db"
	"github.com/oriys/cortex/internal/domain"
)

type fakeRaw struct {
	pingErr     error
	beginErr    error
	commitErr   error
	rollbackErr error
	begun       bool
	committed   bool
	rolledBack  bool
}

func (f *fakeRaw) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) { return nil, nil }
func (f *fakeRaw) QueryRow(ctx context.Context, sql string, args ...any) db.Row          { return nil }
func (f *fakeRaw) Query(ctx context.Context, sql string, args ...any) (db.Rows, error)   { return nil, nil }
func (f *fakeRaw) Ping(ctx context.Context) error                                        { return f.pingErr }
func (f *fakeRaw) Close() error                                                           { return nil }
func (f *fakeRaw) Begin(ctx context.Context, opts *db.TxOptions) (db.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun = true
	return nil, nil
}
func (f *fakeRaw) Commit(ctx context.Context) error {
	f.committed = true
	return f.commitErr
}
func (f *fakeRaw) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return f.rollbackErr
}
func (f *fakeRaw) Savepoint(ctx context.Context, name string) error             { return nil }
func (f *fakeRaw) RollbackToSavepoint(ctx context.Context, name string) error { return nil }

type fakeReleaser struct {
	released *Conn
}

func (r *fakeReleaser) Release(c *Conn) { r.released = c }

func TestCheckHealthReflectsPing(t *testing.T) {
	raw := &fakeRaw{}
	c := New(raw, &domain.Connection{ID: domain.NewConnectionID()}, nil)
	if !c.CheckHealth(context.Background()) {
		t.Fatal("expected healthy connection")
	}
	raw.pingErr = errors.New("conn refused")
	if c.CheckHealth(context.Background()) {
		t.Fatal("expected unhealthy connection after ping error")
	}
}

func TestWithTransactionCommitsOnSuccess(t *testing.T) {
	raw := &fakeRaw{}
	c := New(raw, &domain.Connection{ID: domain.NewConnectionID()}, nil)
	err := c.WithTransaction(context.Background(), func(db.Tx) error { return nil })
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}
	if !raw.begun || !raw.committed {
		t.Fatal("expected transaction to begin and commit")
	}
	if raw.rolledBack {
		t.Fatal("did not expect a rollback on success")
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	raw := &fakeRaw{}
	c := New(raw, &domain.Connection{ID: domain.NewConnectionID()}, nil)
	want := errors.New("business logic failed")
	err := c.WithTransaction(context.Background(), func(db.Tx) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected original error to propagate, got %v", err)
	}
	if !raw.rolledBack {
		t.Fatal("expected rollback after fn error")
	}
	if raw.committed {
		t.Fatal("did not expect a commit after fn error")
	}
}

func TestCloseAbortsDanglingTransactionAndReleases(t *testing.T) {
	raw := &fakeRaw{}
	releaser := &fakeReleaser{}
	state := &domain.Connection{ID: domain.NewConnectionID()}
	c := New(raw, state, releaser)

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Close(context.Background())

	if !raw.rolledBack {
		t.Fatal("expected Close to roll back a dangling transaction")
	}
	if releaser.released != c {
		t.Fatal("expected Close to release the connection to its pool")
	}
	if state.UseCount != 1 {
		t.Fatalf("expected UseCount to increment, got %d", state.UseCount)
	}
}

func TestMarkForRecycling(t *testing.T) {
	state := &domain.Connection{ID: domain.NewConnectionID()}
	c := New(&fakeRaw{}, state, nil)
	c.MarkForRecycling()
	if !state.MarkedForRecycling {
		t.Fatal("expected MarkedForRecycling to be set")
	}
}
