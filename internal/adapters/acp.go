package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"switchboard/internal/model"
)

// DefaultACPEndpoint is used when ACP_ENDPOINT is unset.
const DefaultACPEndpoint = "http://localhost:8082"

// ACPAdapter forwards approved actions to an ACP peer's /forward
// endpoint, for tool names carrying the "partner:" prefix.
type ACPAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewACPAdapter builds an ACP adapter against baseURL, falling back to
// DefaultACPEndpoint when empty. Outbound calls are throttled by
// ACP_RATE_LIMIT_RPS when set, the same partner-surface courtesy as
// MCPAdapter's limiter.
func NewACPAdapter(baseURL string) *ACPAdapter {
	if baseURL == "" {
		baseURL = DefaultACPEndpoint
	}
	return &ACPAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    newOutboundLimiter("ACP_RATE_LIMIT_RPS"),
	}
}

// NewACPAdapterFromEnv reads ACP_ENDPOINT.
func NewACPAdapterFromEnv() *ACPAdapter {
	return NewACPAdapter(os.Getenv("ACP_ENDPOINT"))
}

func (a *ACPAdapter) Name() string { return "acp" }

type acpForwardRequest struct {
	Action      string         `json:"action"`
	Arguments   map[string]any `json:"arguments"`
	PrincipalID string         `json:"principal_id"`
	TenantID    string         `json:"tenant_id"`
}

type acpForwardResponse struct {
	Accepted bool           `json:"accepted"`
	Message  string         `json:"message"`
	Payload  map[string]any `json:"payload"`
}

// Execute POSTs the action to the ACP peer's /forward endpoint, stripping
// the "partner:" prefix the router used to select this adapter.
func (a *ACPAdapter) Execute(ctx context.Context, req model.ActionRequest) (AdapterResult, error) {
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: acp rate limit wait: %w", err)
	}

	body, err := json.Marshal(acpForwardRequest{
		Action:      strings.TrimPrefix(req.ToolName, "partner:") + ":" + req.ToolAction,
		Arguments:   req.Arguments.Data,
		PrincipalID: req.Context.PrincipalID,
		TenantID:    req.Context.TenantID,
	})
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: marshal acp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/forward", bytes.NewReader(body))
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: build acp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: acp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: read acp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return AdapterResult{Success: false, Detail: fmt.Sprintf("acp peer returned %d: %s", resp.StatusCode, string(respBody))}, nil
	}

	var parsed acpForwardResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: unmarshal acp response: %w", err)
	}
	return AdapterResult{Success: parsed.Accepted, Detail: parsed.Message, Response: parsed.Payload}, nil
}
