// Package router wires the policy engine, audit service, approval
// store, and adapter registry into the single entry point an agent's
// action request flows through: evaluate, audit, and either dispatch,
// queue for human review, or block.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"switchboard/internal/adapters"
	"switchboard/internal/approvals"
	"switchboard/internal/audit"
	"switchboard/internal/model"
	"switchboard/internal/policy"
)

// BlockedError is returned when policy denies a request outright.
type BlockedError struct {
	Reason    string
	PolicyIDs []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("router: blocked: %s", e.Reason)
}

// ApprovalRequiredError is returned when a request has been queued for
// human review instead of dispatched.
type ApprovalRequiredError struct {
	ApprovalID uuid.UUID
	Reason     string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("router: approval %s required: %s", e.ApprovalID, e.Reason)
}

// IsBlocked reports whether err is (or wraps) a *BlockedError.
func IsBlocked(err error) bool {
	var b *BlockedError
	return errors.As(err, &b)
}

// IsApprovalRequired reports whether err is (or wraps) an
// *ApprovalRequiredError.
func IsApprovalRequired(err error) bool {
	var a *ApprovalRequiredError
	return errors.As(err, &a)
}

// Executed is the successful outcome of Route/ApproveResume: the action
// was dispatched and the adapter's result is attached alongside the
// audit trail it was recorded under. For an ApproveResume with a denied
// status nothing is dispatched and Result is the zero value.
type Executed struct {
	Result      adapters.AdapterResult
	AuditRecord model.AuditRecord
	Decision    model.PolicyDecision
}

// Router evaluates, audits, and dispatches action requests.
type Router struct {
	Policy    policy.Engine
	Audit     *audit.Service
	Approvals approvals.Store
	Adapters  *adapters.Registry
}

// New builds a Router from its four collaborators.
func New(engine policy.Engine, auditSvc *audit.Service, approvalStore approvals.Store, registry *adapters.Registry) *Router {
	return &Router{Policy: engine, Audit: auditSvc, Approvals: approvalStore, Adapters: registry}
}

// Route evaluates req against policy, records the decision to the audit
// log, and either dispatches it, queues it for approval, or blocks it.
//
// A blocked or pending outcome is signaled through a typed error
// (*BlockedError / *ApprovalRequiredError) rather than a sentinel field
// on a result struct, so callers pattern-match with errors.As the same
// way the teacher's policy.IsDenied/IsApprovalRequired helpers do.
func (r *Router) Route(ctx context.Context, req model.ActionRequest) (Executed, error) {
	if err := req.Validate(); err != nil {
		return Executed{}, fmt.Errorf("router: invalid request: %w", err)
	}

	decision, err := r.Policy.Evaluate(ctx, req)
	if err != nil {
		return Executed{}, fmt.Errorf("router: policy evaluation failed: %w", err)
	}

	record, err := r.Audit.Record(ctx, req, decision)
	if err != nil {
		return Executed{}, fmt.Errorf("router: audit record failed: %w", err)
	}

	targetAdapter := adapters.TargetAdapterName(req.ToolName)
	route := model.RouteDecision{
		Context:       req.Context,
		Policy:        decision,
		TargetAdapter: targetAdapter,
		AuditEventID:  record.EventID,
	}

	slog.Info("route evaluated",
		"event_id", record.EventID,
		"trace_id", traceIDFromContext(ctx),
		"tool_name", req.ToolName,
		"tool_action", req.ToolAction,
		"allowed", decision.Allowed,
		"requires_approval", decision.RequiresApproval,
		"target_adapter", targetAdapter,
		"arguments", req.Arguments.Redacted(),
	)

	if !decision.Allowed {
		return Executed{}, &BlockedError{Reason: decision.Reason, PolicyIDs: decision.PolicyIDs}
	}

	if decision.RequiresApproval {
		pending := model.NewPendingApproval()
		record.Approval = &pending
		approvalID, err := r.Approvals.CreatePending(ctx, record, route)
		if err != nil {
			return Executed{}, fmt.Errorf("router: create pending approval: %w", err)
		}
		return Executed{}, &ApprovalRequiredError{ApprovalID: approvalID, Reason: decision.Reason}
	}

	result, err := r.dispatch(ctx, targetAdapter, req)
	if err != nil {
		return Executed{}, err
	}
	return Executed{Result: result, AuditRecord: record, Decision: decision}, nil
}

// ApproveResume resolves a pending approval and, if approved, dispatches
// the original request under the same per-adapter mutex Route would
// have used — unlike the Python original's approve-handler, which takes
// a separate ad hoc lock, this keeps per-adapter serialization (P7)
// uniform across both code paths.
func (r *Router) ApproveResume(ctx context.Context, approvalID uuid.UUID, status model.ApprovalStatus, decidedBy, notes string) (Executed, error) {
	record, route, err := r.Approvals.Resolve(ctx, approvalID, status, decidedBy, notes)
	if err != nil {
		return Executed{}, err
	}

	if status != model.ApprovalApproved {
		return Executed{AuditRecord: record, Decision: route.Policy}, nil
	}

	result, err := r.dispatch(ctx, route.TargetAdapter, record.Request)
	if err != nil {
		return Executed{}, err
	}
	return Executed{Result: result, AuditRecord: record, Decision: route.Policy}, nil
}

func (r *Router) dispatch(ctx context.Context, adapterName string, req model.ActionRequest) (adapters.AdapterResult, error) {
	adapter, err := r.Adapters.Get(adapterName)
	if err != nil {
		return adapters.AdapterResult{}, fmt.Errorf("router: %w", err)
	}

	lock := r.Adapters.LockFor(adapterName)
	lock.Lock()
	defer lock.Unlock()

	result, err := adapter.Execute(ctx, req)
	if err != nil {
		return adapters.AdapterResult{}, fmt.Errorf("router: dispatch to %s failed: %w", adapterName, err)
	}
	return result, nil
}

// traceIDFromContext surfaces the active span's trace ID for audit
// correlation, the span-based alternative to the teacher's raw
// context-key trace propagation. Returns "" when ctx carries no span
// context with a trace ID — callers never treat that as an error.
func traceIDFromContext(ctx context.Context) string {
	spanCtx := oteltrace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
