// Package domain defines the core entities shared across the storage core:
// endpoints, pooled connections, agent sessions, WAL entries, and the
// consistency status vocabulary. These types carry no behavior of their
// own; the packages that own a given entity (pool, session, wal, ...)
// mutate it under their own locking discipline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnHealth is the health classification of a pooled connection.
type ConnHealth int

const (
	ConnHealthy ConnHealth = iota
	ConnDegraded
	ConnUnhealthy
)

func (h ConnHealth) String() string {
	switch h {
	case ConnHealthy:
		return "healthy"
	case ConnDegraded:
		return "degraded"
	case ConnUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Endpoint is a single D-store address the pool can dial. Endpoints are
// created at pool construction; the pool mutates active_connections (as
// connections open and close) and failure_count (on a failed dial).
// Healthy and LastChecked keep the values they were constructed with.
type Endpoint struct {
	Address           string
	ActiveConnections int32 // accessed via atomic add/load by callers
	FailureCount      int32
	Healthy           bool
	LastChecked       time.Time
}

// Connection is the pool's bookkeeping record for one physical D-store
// connection. The raw handle itself lives in internal/conn.Conn; this
// struct carries only the state the pool (C5) and health monitor (C4)
// need to decide when to recycle or evict.
type Connection struct {
	ID                  uuid.UUID
	Endpoint            string
	CreatedAt           time.Time
	LastUsedAt          time.Time
	UseCount            int
	MarkedForRecycling  bool
	Health              ConnHealth
}

// Credentials are passed through to the D-store at connection setup.
// Either field may be empty when the endpoint requires no authentication
// or when credentials are resolved out of band (see internal/secrets).
type Credentials struct {
	Username string
	Password string
}

// NewConnectionID mints an opaque connection identifier.
func NewConnectionID() uuid.UUID { return uuid.New() }

// TxnOpKind tags the operation recorded in a TxnEntry.
type TxnOpKind int

const (
	TxnOpRead TxnOpKind = iota
	TxnOpWrite
	TxnOpDelete
	TxnOpBatch
)

// TxnOp describes a single logical operation performed on a connection
// within an agent session, recorded for audit/replay purposes.
type TxnOp struct {
	Kind        TxnOpKind
	Path        string
	ContentHash string  // set for TxnOpWrite
	Batch       []TxnOp // set for TxnOpBatch
}

// TxnStatus is the lifecycle state of a TxnEntry.
type TxnStatus int

const (
	TxnPending TxnStatus = iota
	TxnCommitted
	TxnAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnPending:
		return "pending"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TxnEntry is one entry in an agent session's bounded transaction log.
type TxnEntry struct {
	ID         uuid.UUID
	Op         TxnOp
	Status     TxnStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResourceLimits bound the resources an agent session may consume.
type ResourceLimits struct {
	MaxConcurrentConnections int
	MaxOperations            int
	MaxTransactionLogSize    int
}

// ConsistencyStatus is the per-entity verdict produced by the consistency
// checker (C11).
type ConsistencyStatus int

const (
	StatusConsistent ConsistencyStatus = iota
	StatusMissingVector
	StatusOrphanVector
	StatusMismatch
	StatusNotFound
)

func (s ConsistencyStatus) String() string {
	switch s {
	case StatusConsistent:
		return "consistent"
	case StatusMissingVector:
		return "missing_vector"
	case StatusOrphanVector:
		return "orphan_vector"
	case StatusMismatch:
		return "mismatch"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// WALStatus is the lifecycle state of a WALEntry. Monotonic along
// Pending -> DCompleted -> VCompleted -> Committed; Failed is reachable
// from any non-terminal state.
type WALStatus int

const (
	WALPending WALStatus = iota
	WALDCompleted
	WALVCompleted
	WALCommitted
	WALFailed
)

func (s WALStatus) String() string {
	switch s {
	case WALPending:
		return "pending"
	case WALDCompleted:
		return "d_completed"
	case WALVCompleted:
		return "v_completed"
	case WALCommitted:
		return "committed"
	case WALFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether status ends the entry's lifecycle.
func (s WALStatus) Terminal() bool {
	return s == WALCommitted || s == WALFailed
}

// WALEntry is a single durable record of a sync operation in progress,
// owned by C9.
type WALEntry struct {
	ID        uuid.UUID
	Op        SyncEntity
	Status    WALStatus
	Attempts  int
	CreatedAt time.Time
}

// SyncEventKind tags the kind of event the sync coordinator (C10) emits
// on its bounded broadcast bus.
type SyncEventKind int

const (
	EventSynced SyncEventKind = iota
	EventFailed
	EventConflict
	EventInconsistent
	EventRepaired
)

func (k SyncEventKind) String() string {
	switch k {
	case EventSynced:
		return "synced"
	case EventFailed:
		return "failed"
	case EventConflict:
		return "conflict"
	case EventInconsistent:
		return "inconsistent"
	case EventRepaired:
		return "repaired"
	default:
		return "unknown"
	}
}

// SyncEvent is broadcast on the sync coordinator's event bus.
type SyncEvent struct {
	Kind      SyncEventKind
	EntityID  string
	Timestamp time.Time
	Detail    string
}

// SyncEntity is the unit of work the dual-write coordinator (C10) and the
// migration engine (C12) move between the D-store and the V-store.
type SyncEntity struct {
	ID            string
	EntityType    string
	Vector        []float32
	Metadata      map[string]any
	Timestamp     time.Time
	TenantID      string // optional
	ContentDigest string // SHA-256 hex digest persisted on both sides, see SPEC_FULL.md §3
}
