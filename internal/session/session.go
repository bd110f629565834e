// Package session implements the agent session (C8): a namespaced,
// quota-bearing proxy in front of the connection manager (C7). It
// generalizes the teacher's tenant quota enforcement
// (store.PostgresStore.CheckAndConsumeTenantQuota, a transactional
// check-then-increment against tenant_usage_current) into an in-process
// CAS loop over atomic counters, since session quotas here bound
// in-memory concurrency rather than a persisted rate-limited dimension.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cortex/internal/conn"
	"github.com/oriys/cortex/internal/domain"
)

// Manager is the subset of *connmanager.Manager a session acquires
// connections through.
type Manager interface {
	Acquire(ctx context.Context, timeout time.Duration) (*conn.Conn, error)
}

// Session owns a namespace, resource limits, and a bounded transaction
// log. Safe for concurrent use.
type Session struct {
	Namespace string
	Limits    domain.ResourceLimits

	manager Manager

	active          atomic.Int32
	totalOperations atomic.Int32

	mu  sync.Mutex
	log []domain.TxnEntry
}

// New constructs a Session scoped to namespace, acquiring connections
// through manager and bounding itself by limits.
func New(namespace string, limits domain.ResourceLimits, manager Manager) *Session {
	return &Session{Namespace: namespace, Limits: limits, manager: manager}
}

// sessionConn decrements active on Close, proxying the underlying loan.
type sessionConn struct {
	*conn.Conn
	s *Session
}

func (sc *sessionConn) Close(ctx context.Context) {
	sc.Conn.Close(ctx)
	sc.s.active.Add(-1)
}

// Acquire enforces max_concurrent_connections and max_operations before
// delegating to the connection manager. Returns domain.ErrQuotaExceeded
// if either limit is already met.
func (s *Session) Acquire(ctx context.Context, timeout time.Duration) (*sessionConn, error) {
	for {
		cur := s.active.Load()
		if s.Limits.MaxConcurrentConnections > 0 && cur >= int32(s.Limits.MaxConcurrentConnections) {
			return nil, domain.ErrQuotaExceeded
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	for {
		cur := s.totalOperations.Load()
		if s.Limits.MaxOperations > 0 && cur >= int32(s.Limits.MaxOperations) {
			s.active.Add(-1)
			return nil, domain.ErrQuotaExceeded
		}
		if s.totalOperations.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	c, err := s.manager.Acquire(ctx, timeout)
	if err != nil {
		s.active.Add(-1)
		return nil, err
	}
	return &sessionConn{Conn: c, s: s}, nil
}

// RecordTransaction appends a pending TxnEntry for op, evicting the oldest
// already-committed entry first if the log is already at
// max_transaction_log_size, so an in-flight (pending) entry is never
// dropped ahead of a committed one. If every entry is still pending, the
// oldest entry is evicted regardless, to keep the log bounded.
func (s *Session) RecordTransaction(op domain.TxnOp) domain.TxnEntry {
	entry := domain.TxnEntry{
		ID:        domain.NewConnectionID(),
		Op:        op,
		Status:    domain.TxnPending,
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.Limits.MaxTransactionLogSize
	if limit > 0 && len(s.log) >= limit {
		evict := 0
		for i := range s.log {
			if s.log[i].Status == domain.TxnCommitted {
				evict = i
				break
			}
		}
		s.log = append(s.log[:evict], s.log[evict+1:]...)
	}
	s.log = append(s.log, entry)
	return entry
}

// CommitTransaction marks the entry matching id as committed. Reports
// false if no entry with that id is found (it may have been evicted); the
// entry's current status is not checked.
func (s *Session) CommitTransaction(id uuid.UUID) bool {
	return s.setStatus(id, domain.TxnCommitted)
}

// AbortTransaction marks the entry matching id as aborted.
func (s *Session) AbortTransaction(id uuid.UUID) bool {
	return s.setStatus(id, domain.TxnAborted)
}

func (s *Session) setStatus(id uuid.UUID, status domain.TxnStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].ID == id {
			s.log[i].Status = status
			s.log[i].FinishedAt = time.Now()
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of session usage.
type Stats struct {
	ActiveConnections int
	TotalOperations   int
	TransactionLogLen int
}

// Stats reports current session usage.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	logLen := len(s.log)
	s.mu.Unlock()
	return Stats{
		ActiveConnections: int(s.active.Load()),
		TotalOperations:   int(s.totalOperations.Load()),
		TransactionLogLen: logLen,
	}
}

// IsWithinLimits reports whether the session could acquire another
// connection and perform another operation without exceeding its quotas.
func (s *Session) IsWithinLimits() bool {
	if s.Limits.MaxConcurrentConnections > 0 && int(s.active.Load()) >= s.Limits.MaxConcurrentConnections {
		return false
	}
	if s.Limits.MaxOperations > 0 && int(s.totalOperations.Load()) >= s.Limits.MaxOperations {
		return false
	}
	return true
}
