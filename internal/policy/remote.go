package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"switchboard/internal/model"
)

// RemoteTimeout bounds the OPA round-trip per spec.md §5's ≤5s budget.
const RemoteTimeout = 5 * time.Second

// OPAError wraps any failure talking to the remote policy evaluator.
// It is always an availability error: RemoteEngine catches it and falls
// back to the local engine rather than letting it reach the router.
type OPAError struct {
	Err error
}

func (e *OPAError) Error() string { return fmt.Sprintf("policy: opa request failed: %v", e.Err) }
func (e *OPAError) Unwrap() error { return e.Err }

type opaInput struct {
	Context map[string]any `json:"context"`
	Request struct {
		ToolName   string         `json:"tool_name"`
		ToolAction string         `json:"tool_action"`
		Arguments  map[string]any `json:"arguments"`
	} `json:"request"`
	Activity struct {
		WindowCount int `json:"window_count"`
	} `json:"activity"`
	Policy struct {
		RateLimit int `json:"rate_limit"`
	} `json:"policy"`
}

type opaRequestBody struct {
	Input opaInput `json:"input"`
}

type opaResult struct {
	Allow            bool     `json:"allow"`
	RequiresApproval bool     `json:"requires_approval"`
	Reason           string   `json:"reason"`
	PolicyIDs        []string `json:"policy_ids"`
	RiskLevel        string   `json:"risk_level"`
}

type opaResponseBody struct {
	Result *opaResult `json:"result"`
}

// OPAClient posts an evaluation request to an Open Policy Agent-style
// HTTP endpoint and parses its decision document.
type OPAClient struct {
	url    string
	client *http.Client
}

// NewOPAClient builds a client against url (typically OPA_URL's data API
// endpoint for this policy's decision document).
func NewOPAClient(url string) *OPAClient {
	return &OPAClient{url: url, client: &http.Client{Timeout: RemoteTimeout}}
}

// Evaluate posts req to OPA and parses allow/requires_approval/etc. out
// of the "result" key. A missing "result" key or a >=400 status is
// reported as an OPAError.
func (c *OPAClient) Evaluate(ctx context.Context, req model.ActionRequest) (model.PolicyDecision, error) {
	body := opaRequestBody{}
	body.Input.Context = map[string]any{
		"agent_id":     req.Context.AgentID,
		"principal_id": req.Context.PrincipalID,
		"tenant_id":    req.Context.TenantID,
		"severity":     req.Context.Severity,
	}
	body.Input.Request.ToolName = req.ToolName
	body.Input.Request.ToolAction = req.ToolAction
	body.Input.Request.Arguments = req.Arguments.Data

	payload, err := json.Marshal(body)
	if err != nil {
		return model.PolicyDecision{}, &OPAError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.PolicyDecision{}, &OPAError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return model.PolicyDecision{}, &OPAError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return model.PolicyDecision{}, &OPAError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed opaResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.PolicyDecision{}, &OPAError{Err: err}
	}
	if parsed.Result == nil {
		return model.PolicyDecision{}, &OPAError{Err: fmt.Errorf("response missing result key")}
	}

	risk := parsed.Result.RiskLevel
	if risk == "" {
		risk = model.DefaultRiskLevel
	}
	return model.PolicyDecision{
		Allowed:          parsed.Result.Allow,
		RequiresApproval: parsed.Result.RequiresApproval,
		Reason:           parsed.Result.Reason,
		PolicyIDs:        parsed.Result.PolicyIDs,
		RiskLevel:        risk,
	}, nil
}

// RemoteEngine tries an OPAClient first and falls back to a LocalEngine
// on any transport or decode failure. Availability over remote-evaluator
// correctness: the local ruleset is the safety source of truth.
type RemoteEngine struct {
	remote *OPAClient
	local  *LocalEngine
}

// NewRemoteEngine wires a remote client with its local fallback.
func NewRemoteEngine(remote *OPAClient, local *LocalEngine) *RemoteEngine {
	return &RemoteEngine{remote: remote, local: local}
}

// Evaluate attempts the remote evaluator, falling back to the local
// engine on any error without surfacing the remote failure to the
// caller.
func (e *RemoteEngine) Evaluate(ctx context.Context, req model.ActionRequest) (model.PolicyDecision, error) {
	remoteCtx, cancel := context.WithTimeout(ctx, RemoteTimeout)
	defer cancel()

	decision, err := e.remote.Evaluate(remoteCtx, req)
	if err == nil {
		return decision, nil
	}

	slog.Warn("remote policy evaluator unavailable, falling back to local engine", "err", err)
	return e.local.Evaluate(ctx, req)
}
