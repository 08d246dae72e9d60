package approvals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/model"
)

// PersistentStore durably persists approvals and a denormalized audit
// cache row per event, across SQLite or Postgres via the dialect helpers
// in db.go. Concurrency is handled with serializable transactions rather
// than an in-process mutex, since multiple process instances may share
// the same database.
type PersistentStore struct {
	db      *sql.DB
	dialect Dialect

	waiterMu sync.Mutex
	waiters  map[uuid.UUID][]chan model.AuditRecord
}

var _ Store = (*PersistentStore)(nil)

// NewPersistentStore wraps an already-open, schema-ensured *sql.DB.
func NewPersistentStore(db *sql.DB, dialect Dialect) *PersistentStore {
	return &PersistentStore{db: db, dialect: dialect, waiters: make(map[uuid.UUID][]chan model.AuditRecord)}
}

func (s *PersistentStore) rb(query string) string { return rebind(s.dialect, query) }

// CreatePending inserts the approval row and a matching audit_cache row
// in a single transaction. The approvals row is a plain INSERT; the two
// genuine dialect branches are the placeholder syntax (via rb) and the
// audit_cache upsert-on-conflict clause in upsertAuditCache.
func (s *PersistentStore) CreatePending(ctx context.Context, record model.AuditRecord, route model.RouteDecision) (uuid.UUID, error) {
	if record.Approval == nil {
		pending := model.NewPendingApproval()
		record.Approval = &pending
	}
	id := record.Approval.ApprovalID

	requestJSON, err := json.Marshal(record.Request)
	if err != nil {
		return uuid.Nil, fmt.Errorf("approvals: marshal request: %w", err)
	}
	policyJSON, err := json.Marshal(record.PolicyDecision)
	if err != nil {
		return uuid.Nil, fmt.Errorf("approvals: marshal policy: %w", err)
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return uuid.Nil, fmt.Errorf("approvals: marshal record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return uuid.Nil, fmt.Errorf("approvals: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, s.rb(`INSERT INTO approvals
		(approval_id, request_json, policy_json, adapter, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		id.String(), string(requestJSON), string(policyJSON), route.TargetAdapter, string(model.ApprovalPending), now, now,
	); err != nil {
		return uuid.Nil, fmt.Errorf("approvals: insert approval: %w", err)
	}

	if err := s.upsertAuditCache(ctx, tx, record.EventID, id, recordJSON, now); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("approvals: commit: %w", err)
	}
	return id, nil
}

func (s *PersistentStore) upsertAuditCache(ctx context.Context, tx *sql.Tx, eventID uuid.UUID, approvalID uuid.UUID, recordJSON []byte, now string) error {
	var query string
	if s.dialect == DialectPostgres {
		query = `INSERT INTO audit_cache (event_id, approval_id, record_json, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (event_id) DO UPDATE SET
				approval_id = EXCLUDED.approval_id,
				record_json = EXCLUDED.record_json`
	} else {
		query = `INSERT OR REPLACE INTO audit_cache (event_id, approval_id, record_json, created_at)
			VALUES (?, ?, ?, ?)`
	}
	if _, err := tx.ExecContext(ctx, s.rb(query), eventID.String(), approvalID.String(), string(recordJSON), now); err != nil {
		return fmt.Errorf("approvals: upsert audit cache: %w", err)
	}
	return nil
}

// Resolve looks up the pending approval and audit cache rows, reconstructs
// the record/route, applies the transition, and writes the new status
// back — all inside one serializable transaction. An unknown approval_id
// or one that's no longer pending returns NotFoundError, which is what
// makes a second resolve on the same ID fail cleanly (P8).
func (s *PersistentStore) Resolve(ctx context.Context, approvalID uuid.UUID, status model.ApprovalStatus, decidedBy, notes string) (model.AuditRecord, model.RouteDecision, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: begin tx: %w", err)
	}
	defer tx.Rollback()

	var requestJSON, policyJSON, adapter, currentStatus string
	err = tx.QueryRowContext(ctx, s.rb(`SELECT request_json, policy_json, adapter, status FROM approvals WHERE approval_id = ?`), approvalID.String()).
		Scan(&requestJSON, &policyJSON, &adapter, &currentStatus)
	if err == sql.ErrNoRows {
		return model.AuditRecord{}, model.RouteDecision{}, &NotFoundError{ApprovalID: approvalID}
	}
	if err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: select approval: %w", err)
	}
	if currentStatus != string(model.ApprovalPending) {
		return model.AuditRecord{}, model.RouteDecision{}, &NotFoundError{ApprovalID: approvalID}
	}

	var recordJSON string
	err = tx.QueryRowContext(ctx, s.rb(`SELECT record_json FROM audit_cache WHERE approval_id = ?`), approvalID.String()).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return model.AuditRecord{}, model.RouteDecision{}, &NotFoundError{ApprovalID: approvalID}
	}
	if err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: select audit cache: %w", err)
	}

	var record model.AuditRecord
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: unmarshal record: %w", err)
	}
	if record.Approval == nil {
		pending := model.NewPendingApproval()
		pending.ApprovalID = approvalID
		record.Approval = &pending
	}
	if err := record.Approval.Resolve(status, decidedBy, notes); err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, err
	}

	var route model.RouteDecision
	route.Context = record.Request.Context
	route.Policy = record.PolicyDecision
	route.TargetAdapter = adapter
	route.AuditEventID = record.EventID

	now := time.Now().UTC().Format(time.RFC3339Nano)
	decidedAtStr := ""
	if record.Approval.DecidedAt != nil {
		decidedAtStr = record.Approval.DecidedAt.Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(ctx, s.rb(`UPDATE approvals SET status = ?, decided_by = ?, decided_at = ?, notes = ?, updated_at = ? WHERE approval_id = ? AND status = ?`),
		string(status), decidedBy, decidedAtStr, notes, now, approvalID.String(), string(model.ApprovalPending),
	); err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: update approval: %w", err)
	}

	updatedRecordJSON, err := json.Marshal(record)
	if err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: marshal resolved record: %w", err)
	}
	if err := s.upsertAuditCache(ctx, tx, record.EventID, approvalID, updatedRecordJSON, now); err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.AuditRecord{}, model.RouteDecision{}, fmt.Errorf("approvals: commit: %w", err)
	}

	s.notifyWaiters(approvalID, record)
	return record, route, nil
}

// Get fetches the cached record for approvalID, resolved or not.
func (s *PersistentStore) Get(ctx context.Context, approvalID uuid.UUID) (*model.AuditRecord, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx, s.rb(`SELECT record_json FROM audit_cache WHERE approval_id = ?`), approvalID.String()).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approvals: select audit cache: %w", err)
	}
	var record model.AuditRecord
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return nil, fmt.Errorf("approvals: unmarshal record: %w", err)
	}
	return &record, nil
}

// PendingDetails lists every approval still awaiting review.
func (s *PersistentStore) PendingDetails(ctx context.Context) (map[uuid.UUID]PendingApproval, error) {
	rows, err := s.db.QueryContext(ctx, s.rb(`SELECT approval_id, adapter, request_json, policy_json FROM approvals WHERE status = ?`), string(model.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("approvals: list pending: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]PendingApproval)
	for rows.Next() {
		var idStr, adapter, requestJSON, policyJSON string
		if err := rows.Scan(&idStr, &adapter, &requestJSON, &policyJSON); err != nil {
			return nil, fmt.Errorf("approvals: scan pending row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("approvals: parse approval id: %w", err)
		}
		var request model.ActionRequest
		var policy model.PolicyDecision
		_ = json.Unmarshal([]byte(requestJSON), &request)
		_ = json.Unmarshal([]byte(policyJSON), &policy)
		out[id] = PendingApproval{
			ApprovalID: id,
			ToolName:   request.ToolName,
			ToolAction: request.ToolAction,
			Adapter:    adapter,
			RiskLevel:  policy.RiskLevel,
		}
	}
	return out, rows.Err()
}

// Warmup is a no-op beyond the schema ensured at Open(); reserved for
// future connection-pool priming.
func (s *PersistentStore) Warmup(context.Context) error { return nil }

// Shutdown closes the underlying database connection.
func (s *PersistentStore) Shutdown(context.Context) error { return s.db.Close() }

// WaitForResolution blocks until approvalID is resolved or ctx is done,
// grounded on the teacher's internal/audit/approval_store.go channel
// long-poll pattern. It first checks the current state so a caller that
// arrives after resolution doesn't block at all.
func (s *PersistentStore) WaitForResolution(ctx context.Context, approvalID uuid.UUID) (model.AuditRecord, error) {
	if record, err := s.Get(ctx, approvalID); err == nil && record != nil && record.Approval != nil && record.Approval.Status.IsTerminal() {
		return *record, nil
	}

	ch := make(chan model.AuditRecord, 1)
	s.waiterMu.Lock()
	s.waiters[approvalID] = append(s.waiters[approvalID], ch)
	s.waiterMu.Unlock()

	defer func() {
		s.waiterMu.Lock()
		defer s.waiterMu.Unlock()
		remaining := s.waiters[approvalID][:0]
		for _, c := range s.waiters[approvalID] {
			if c != ch {
				remaining = append(remaining, c)
			}
		}
		s.waiters[approvalID] = remaining
	}()

	select {
	case <-ctx.Done():
		return model.AuditRecord{}, ctx.Err()
	case record := <-ch:
		return record, nil
	}
}

func (s *PersistentStore) notifyWaiters(approvalID uuid.UUID, record model.AuditRecord) {
	s.waiterMu.Lock()
	channels := s.waiters[approvalID]
	s.waiterMu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- record:
		default:
		}
	}
}
