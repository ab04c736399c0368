package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExecutionStore persists terminal execution results. Writes are append-only;
// a failed write must never block the trading pipeline (log-and-continue at
// the call site).
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	GetBySignalID(ctx context.Context, signalID string) (ExecutionResult, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionResult, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ApprovalStore persists admission decisions for audit.
type ApprovalStore interface {
	Create(ctx context.Context, appr ApprovedSignal) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]ApprovedSignal, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records audited state transitions: mode changes, circuit-breaker
// trips, startup configuration.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter writes archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Archiver moves aged execution history into cold storage.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, olderThan time.Time) (int, error)
}
