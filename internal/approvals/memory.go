package approvals

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"switchboard/internal/model"
)

type pendingEntry struct {
	record model.AuditRecord
	route  model.RouteDecision
}

// MemoryStore is the default backend: a single mutex guarding a map,
// grounded on the teacher's audit.ApprovalManager but with the mutex that
// implementation was missing — spec.md §5 is explicit that the memory
// approvals map is a shared mutable resource serialized by one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[uuid.UUID]pendingEntry
}

// NewMemoryStore builds an empty in-process approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[uuid.UUID]pendingEntry)}
}

var _ Store = (*MemoryStore)(nil)

// CreatePending attaches a pending ApprovalDecision to record (if it
// doesn't already have one) and registers it for later resolution.
func (s *MemoryStore) CreatePending(_ context.Context, record model.AuditRecord, route model.RouteDecision) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Approval == nil {
		pending := model.NewPendingApproval()
		record.Approval = &pending
	}
	id := record.Approval.ApprovalID
	s.pending[id] = pendingEntry{record: record, route: route}
	return id, nil
}

// Resolve transitions the pending approval identified by approvalID and
// removes it from the pending map, returning the updated record/route.
// An unknown or already-resolved ID returns NotFoundError.
func (s *MemoryStore) Resolve(_ context.Context, approvalID uuid.UUID, status model.ApprovalStatus, decidedBy, notes string) (model.AuditRecord, model.RouteDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[approvalID]
	if !ok {
		return model.AuditRecord{}, model.RouteDecision{}, &NotFoundError{ApprovalID: approvalID}
	}
	if err := entry.record.Approval.Resolve(status, decidedBy, notes); err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, err
	}
	delete(s.pending, approvalID)
	return entry.record, entry.route, nil
}

// Get returns the record for approvalID while it is still pending. Once
// Resolve has removed it from the pending map, MemoryStore no longer
// retains it and Get returns nil (unlike PersistentStore, whose
// audit_cache table retains resolved records).
func (s *MemoryStore) Get(_ context.Context, approvalID uuid.UUID) (*model.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[approvalID]
	if !ok {
		return nil, nil
	}
	return &entry.record, nil
}

// PendingDetails lists everything currently awaiting review.
func (s *MemoryStore) PendingDetails(_ context.Context) (map[uuid.UUID]PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]PendingApproval, len(s.pending))
	for id, entry := range s.pending {
		out[id] = PendingApproval{
			ApprovalID: id,
			ToolName:   entry.record.Request.ToolName,
			ToolAction: entry.record.Request.ToolAction,
			Adapter:    entry.route.TargetAdapter,
			RiskLevel:  entry.record.PolicyDecision.RiskLevel,
		}
	}
	return out, nil
}

// Warmup is a no-op for the in-memory backend.
func (s *MemoryStore) Warmup(context.Context) error { return nil }

// Shutdown is a no-op for the in-memory backend.
func (s *MemoryStore) Shutdown(context.Context) error { return nil }
