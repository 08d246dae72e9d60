// Package approvals implements the pending/resolved approval state
// machine, either in an in-process map guarded by a single mutex, or
// persisted to SQLite/Postgres for durability across restarts.
package approvals

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"switchboard/internal/model"
)

// NotFoundError is returned by Resolve for an unknown or
// already-removed approval ID (Get reports an unknown ID as a nil record
// instead). Resolve returns it on a second resolve of
// the same ID too, which is what gives the store its idempotent-resolve
// property (P8): the second call always fails cleanly rather than
// silently re-applying.
type NotFoundError struct {
	ApprovalID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("approvals: %s not found or already resolved", e.ApprovalID)
}

// PendingApproval is the minimal shape pending_details() surfaces: enough
// to render an approvals queue without exposing the full audit record.
type PendingApproval struct {
	ApprovalID uuid.UUID
	ToolName   string
	ToolAction string
	Adapter    string
	RiskLevel  string
}

// Store owns pending approvals exclusively until Resolve returns them.
// Get returns only the record; whether a resolved record stays
// retrievable depends on the backend (PersistentStore keeps it,
// MemoryStore does not).
type Store interface {
	CreatePending(ctx context.Context, record model.AuditRecord, route model.RouteDecision) (uuid.UUID, error)
	Resolve(ctx context.Context, approvalID uuid.UUID, status model.ApprovalStatus, decidedBy, notes string) (model.AuditRecord, model.RouteDecision, error)
	Get(ctx context.Context, approvalID uuid.UUID) (*model.AuditRecord, error)
	PendingDetails(ctx context.Context) (map[uuid.UUID]PendingApproval, error)
	Warmup(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
