// Package model defines the immutable value types that flow through the
// switchboard: action requests, policy decisions, route decisions,
// approvals, and audit records.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ActionSeverity classifies how sensitive an action is to the business.
type ActionSeverity string

const (
	SeverityP0 ActionSeverity = "P0"
	SeverityP1 ActionSeverity = "P1"
	SeverityP2 ActionSeverity = "P2"
)

// ApprovalStatus is the lifecycle state of a human-review decision.
// pending is the only non-terminal state; approved and denied are terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// IsTerminal reports whether the status can no longer change.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied
}

// ActionContext describes who is taking an action, on whose behalf, and
// under what sensitivity classification.
type ActionContext struct {
	RequestID       uuid.UUID      `json:"request_id"`
	InitiatedAt     time.Time      `json:"initiated_at"`
	AgentID         string         `json:"agent_id"`
	PrincipalID     string         `json:"principal_id"`
	TenantID        string         `json:"tenant_id"`
	Severity        ActionSeverity `json:"severity"`
	SensitivityTags []string       `json:"sensitivity_tags,omitempty"`
	PII             bool           `json:"pii,omitempty"`
	ResourceScope   *string        `json:"resource_scope,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewActionContext validates and fills defaults the way the Python
// original's pydantic validators did: request_id/initiated_at are
// generated when zero, agent/principal/tenant IDs are trimmed and must be
// non-empty, severity defaults to P1.
func NewActionContext(agentID, principalID, tenantID string) (ActionContext, error) {
	ctx := ActionContext{
		RequestID:   uuid.New(),
		InitiatedAt: time.Now().UTC(),
		Severity:    SeverityP1,
	}
	var err error
	if ctx.AgentID, err = requireTrimmed("agent_id", agentID); err != nil {
		return ActionContext{}, err
	}
	if ctx.PrincipalID, err = requireTrimmed("principal_id", principalID); err != nil {
		return ActionContext{}, err
	}
	if ctx.TenantID, err = requireTrimmed("tenant_id", tenantID); err != nil {
		return ActionContext{}, err
	}
	return ctx, nil
}

func requireTrimmed(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("model: %s must not be empty", field)
	}
	return trimmed, nil
}

// Roles returns the lowercase, trimmed role(s) attached to the context's
// metadata under either "role" (singular) or "roles" (comma/slice form).
// Both shapes are accepted because upstream agents disagree on which one
// they send.
func (c ActionContext) Roles() []string {
	var roles []string
	if c.Metadata == nil {
		return roles
	}
	switch v := c.Metadata["roles"].(type) {
	case []string:
		roles = append(roles, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				roles = append(roles, part)
			}
		}
	}
	if role, ok := c.Metadata["role"].(string); ok {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	for i, r := range roles {
		roles[i] = strings.ToLower(strings.TrimSpace(r))
	}
	return roles
}

// Approver returns the metadata's "approver" field, trimmed, for the
// segregation-of-duties check.
func (c ActionContext) Approver() string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata["approver"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ActionArguments carries the tool's invocation payload alongside a list
// of keys that must be masked whenever the arguments are logged or
// surfaced outside the audit trail.
type ActionArguments struct {
	Data           map[string]any `json:"data,omitempty"`
	RedactedFields []string       `json:"redacted_fields,omitempty"`
}

// Redacted returns a copy of Data with every key (or dotted path, e.g.
// "user.ssn") listed in RedactedFields masked. Paths in RedactedFields
// that don't resolve against Data are silently ignored — this never
// errors, matching the spec's invariant that redacted_fields need not
// be a subset of the data's keys.
//
// Data's values are arbitrary, possibly-nested maps, so masking goes
// through a marshal/gjson-path-check/sjson-set round trip rather than a
// single top-level map copy — the only way to reach a dotted path
// without hand-rolling map-tree traversal.
func (a ActionArguments) Redacted() map[string]any {
	out := make(map[string]any, len(a.Data))
	for k, v := range a.Data {
		out[k] = v
	}
	if len(a.RedactedFields) == 0 {
		return out
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return out // best effort: fall back to the unredacted shallow copy
	}
	doc := string(raw)
	for _, field := range a.RedactedFields {
		if !gjson.Get(doc, field).Exists() {
			continue
		}
		updated, err := sjson.Set(doc, field, "***")
		if err != nil {
			continue
		}
		doc = updated
	}

	var redacted map[string]any
	if err := json.Unmarshal([]byte(doc), &redacted); err != nil {
		return out
	}
	return redacted
}

// ActionRequest is the unit of work the router evaluates, audits, and
// dispatches.
type ActionRequest struct {
	Context    ActionContext   `json:"context"`
	ToolName   string          `json:"tool_name"`
	ToolAction string          `json:"tool_action"`
	Arguments  ActionArguments `json:"arguments"`
}

// Validate checks the fields NewActionContext doesn't already guarantee.
func (r ActionRequest) Validate() error {
	if strings.TrimSpace(r.ToolName) == "" {
		return fmt.Errorf("model: tool_name must not be empty")
	}
	if strings.TrimSpace(r.ToolAction) == "" {
		return fmt.Errorf("model: tool_action must not be empty")
	}
	return nil
}

// PolicyDecision is the result of evaluating an ActionRequest against
// policy, whether produced by the local ruleset or a remote evaluator.
type PolicyDecision struct {
	Allowed          bool       `json:"allowed"`
	RequiresApproval bool       `json:"requires_approval,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	PolicyIDs        []string   `json:"policy_ids,omitempty"`
	RiskLevel        string     `json:"risk_level,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// DefaultRiskLevel is used whenever a policy decision doesn't set one.
const DefaultRiskLevel = "medium"

// RouteDecision records where a request was sent (or would be sent) and
// under which policy decision, for audit correlation.
type RouteDecision struct {
	Context       ActionContext  `json:"context"`
	Policy        PolicyDecision `json:"policy"`
	TargetAdapter string         `json:"target_adapter"`
	AuditEventID  uuid.UUID      `json:"audit_event_id"`
}

// ApprovalDecision is the outcome of a human review on a pending action.
type ApprovalDecision struct {
	ApprovalID uuid.UUID      `json:"approval_id"`
	Status     ApprovalStatus `json:"status"`
	DecidedBy  *string        `json:"decided_by,omitempty"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
}

// NewPendingApproval constructs a fresh pending decision.
func NewPendingApproval() ApprovalDecision {
	return ApprovalDecision{
		ApprovalID: uuid.New(),
		Status:     ApprovalPending,
	}
}

// Resolve transitions a pending approval to a terminal state. It refuses
// to transition anything that isn't currently pending, which is what
// gives the approval store its idempotent-resolve property: a second
// resolve on the same ID always fails cleanly instead of silently
// re-applying.
func (a *ApprovalDecision) Resolve(status ApprovalStatus, decidedBy string, notes string) error {
	if !a.Status.IsTerminal() && a.Status != ApprovalPending {
		return fmt.Errorf("model: approval %s has unknown status %q", a.ApprovalID, a.Status)
	}
	if a.Status.IsTerminal() {
		return fmt.Errorf("model: approval %s already resolved as %q", a.ApprovalID, a.Status)
	}
	if !status.IsTerminal() {
		return fmt.Errorf("model: resolve status must be terminal, got %q", status)
	}
	now := time.Now().UTC()
	a.Status = status
	a.DecidedAt = &now
	if decidedBy != "" {
		a.DecidedBy = &decidedBy
	}
	if notes != "" {
		a.Notes = &notes
	}
	return nil
}

// AuditRecord is the signed, append-only record of a single policy
// evaluation. Exactly one is created per first evaluation of a request;
// if approval is required its embedded ApprovalDecision transitions in
// place as the approval is resolved. That transition is kept by the
// approval store only: the audit log line written at first evaluation is
// never rewritten, and no new audit line is appended on resolution.
type AuditRecord struct {
	EventID            uuid.UUID         `json:"event_id"`
	Timestamp          time.Time         `json:"timestamp"`
	Request            ActionRequest     `json:"request"`
	PolicyDecision     PolicyDecision    `json:"policy_decision"`
	Approval           *ApprovalDecision `json:"approval,omitempty"`
	Signature          *string           `json:"signature,omitempty"`
	SignatureAlgorithm *string           `json:"signature_algorithm,omitempty"`
	VerificationURL    *string           `json:"verification_url,omitempty"`

	// PrevHash/EventHash form a SHA-256 hash chain over successive audit
	// records, strengthening the append-only guarantee underneath the
	// record's own signature. See internal/audit's hash chain helpers.
	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash,omitempty"`
}

// NewAuditRecord builds a record for a first evaluation.
func NewAuditRecord(req ActionRequest, decision PolicyDecision) AuditRecord {
	return AuditRecord{
		EventID:        uuid.New(),
		Timestamp:      time.Now().UTC(),
		Request:        req,
		PolicyDecision: decision,
	}
}

// CanonicalPayload returns a copy of the record with the three
// signature-related fields forced to nil. Both the signer and the
// verifier operate exclusively on this shape, so that signing never
// covers its own signature.
func (r AuditRecord) CanonicalPayload() AuditRecord {
	cp := r
	cp.Signature = nil
	cp.SignatureAlgorithm = nil
	cp.VerificationURL = nil
	return cp
}

// HealthStatus is returned by the thin HTTP surface's /healthz endpoint.
type HealthStatus struct {
	Service   string
	Status    string
	Detail    *string
	CheckedAt time.Time
}
