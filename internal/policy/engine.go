// Package policy implements the local rule-based policy engine plus a
// remote (OPA-style) evaluator with local fallback.
//
// The local ruleset is a single-pass, accumulating evaluator: every rule
// runs on every request, not just the first one that matches. Denies
// always win over allows, and once a rule requires approval that
// sticks even if a later rule would otherwise allow outright — this is
// the deliberate divergence from the teacher's internal/policy/engine.go,
// whose Explain()/explainEvaluate() return on the first matching rule in
// the first matching policy. That first-match-wins shape is kept for the
// engine's *tracing and logging* style; the actual rule semantics below
// follow spec.md's accumulation model, which is what the test suite
// (P3/P4/P5/P6) holds to.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"switchboard/internal/model"
)

// Engine evaluates an ActionRequest and returns a policy decision.
type Engine interface {
	Evaluate(ctx context.Context, req model.ActionRequest) (model.PolicyDecision, error)
}

const (
	riskMedium   = "medium"
	riskHigh     = "high"
	riskCritical = "critical"
)

var riskRank = map[string]int{riskMedium: 0, riskHigh: 1, riskCritical: 2}

func escalateRisk(current, candidate string) string {
	if riskRank[candidate] > riskRank[current] {
		return candidate
	}
	return current
}

type windowKey struct {
	tenantID string
	toolName string
	severity model.ActionSeverity
}

// LocalEngine is the safety source-of-truth policy evaluator: it must be
// runnable with no network dependency, since it's what RemoteEngine falls
// back to whenever the remote evaluator is unavailable.
type LocalEngine struct {
	config Config

	mu      sync.Mutex // guards windows; one mutex for the whole engine, per spec §5
	windows map[windowKey][]time.Time
}

// NewLocalEngine builds an engine from cfg.
func NewLocalEngine(cfg Config) *LocalEngine {
	return &LocalEngine{config: cfg, windows: make(map[windowKey][]time.Time)}
}

// Evaluate runs the full accumulating rule set against req.
func (e *LocalEngine) Evaluate(_ context.Context, req model.ActionRequest) (model.PolicyDecision, error) {
	decision := model.PolicyDecision{Allowed: true, RiskLevel: riskMedium}
	var reasons []string
	var policyIDs []string

	addDeny := func(id, reason, risk string) {
		decision.Allowed = false
		decision.RiskLevel = escalateRisk(decision.RiskLevel, risk)
		reasons = appendUnique(reasons, reason)
		policyIDs = appendUnique(policyIDs, id)
	}
	addApproval := func(id, risk string) {
		decision.RequiresApproval = true
		decision.RiskLevel = escalateRisk(decision.RiskLevel, risk)
		policyIDs = appendUnique(policyIDs, id)
	}

	ctx := req.Context
	severity := ctx.Severity
	isP0 := severity == model.SeverityP0

	now := time.Now().UTC()
	key := windowKey{tenantID: ctx.TenantID, toolName: req.ToolName, severity: severity}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := e.config.RateLimits.RuleFor(severity)
	windowStart := now.Add(-time.Duration(rule.WindowSeconds) * time.Second)
	timestamps := dropStale(e.windows[key], windowStart)
	e.windows[key] = timestamps

	// 2. Segregation of duties: the approver named in metadata can't be
	// the same principal who initiated the action.
	if approver := ctx.Approver(); approver != "" &&
		strings.EqualFold(strings.TrimSpace(approver), strings.TrimSpace(ctx.PrincipalID)) {
		addDeny("policy:segregation-of-duties", "approver must differ from the requesting principal", riskHigh)
	}

	// 3. P0 plus any sensitivity tag is an outright block, no approval path.
	if isP0 && len(ctx.SensitivityTags) > 0 {
		addDeny("policy:p0-sensitive-block", "P0 actions with sensitivity tags are blocked", riskCritical)
	}

	// 4. Prod-scope actions require the "ops" role.
	if ctx.ResourceScope != nil && *ctx.ResourceScope == "prod" && !hasRole(ctx.Roles(), "ops") {
		addDeny("policy:prod-role", "prod resource scope requires the ops role", riskHigh)
	}

	// 5. Any P0 action requires approval.
	if isP0 {
		addApproval("policy:pii-approval", riskHigh)
	}

	// 6. PII or a configured sensitivity tag requires approval; combined
	// with P0 it escalates to critical.
	if ctx.PII || hasAnyTag(ctx.SensitivityTags, e.config.Sensitivity.RequiresApprovalTags) {
		risk := riskHigh
		if isP0 {
			risk = riskCritical
		}
		addApproval("policy:pii-approval", risk)
	}

	// 7. Rate limit: deny once the window is at capacity.
	if rule.Limit > 0 && len(timestamps) >= rule.Limit {
		addDeny("policy:rate-limit", "rate limit exceeded", riskMedium)
	} else if decision.Allowed {
		// 8. Only count this request toward the window if it would still
		// be allowed — denied/blocked requests don't consume quota.
		e.windows[key] = append(timestamps, now)
	}

	decision.Reason = strings.Join(reasons, "; ")
	decision.PolicyIDs = policyIDs

	slog.Debug("policy_decision",
		"tool_name", req.ToolName,
		"allowed", decision.Allowed,
		"requires_approval", decision.RequiresApproval,
		"risk_level", decision.RiskLevel,
		"policy_ids", decision.PolicyIDs)

	return decision, nil
}

func dropStale(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, want) {
			return true
		}
	}
	return false
}

func hasAnyTag(tags, triggers []string) bool {
	set := make(map[string]struct{}, len(triggers))
	for _, t := range triggers {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := set[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
