package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"switchboard/internal/model"
)

// DefaultMCPServerURL is used when MCP_SERVER_URL is unset.
const DefaultMCPServerURL = "http://localhost:8081"

// MCPAdapter dispatches approved actions to an MCP server's /actions
// endpoint over plain HTTP, the default target for any tool name that
// doesn't match a partner/bedrock/vertex prefix.
type MCPAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewMCPAdapter builds an MCP adapter against baseURL, falling back to
// DefaultMCPServerURL when empty. Outbound calls are throttled by
// MCP_RATE_LIMIT_RPS when set, since an MCP server is a shared
// downstream surface the router shouldn't flood on a traffic spike.
func NewMCPAdapter(baseURL string) *MCPAdapter {
	if baseURL == "" {
		baseURL = DefaultMCPServerURL
	}
	return &MCPAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    newOutboundLimiter("MCP_RATE_LIMIT_RPS"),
	}
}

// NewMCPAdapterFromEnv reads MCP_SERVER_URL.
func NewMCPAdapterFromEnv() *MCPAdapter {
	return NewMCPAdapter(os.Getenv("MCP_SERVER_URL"))
}

func (a *MCPAdapter) Name() string { return "mcp" }

type mcpActionRequest struct {
	ToolName   string         `json:"tool_name"`
	ToolAction string         `json:"tool_action"`
	Arguments  map[string]any `json:"arguments"`
	RequestID  string         `json:"request_id"`
}

type mcpActionResponse struct {
	Success bool           `json:"success"`
	Detail  string         `json:"detail"`
	Result  map[string]any `json:"result"`
}

// Execute POSTs the action to the MCP server's /actions endpoint.
func (a *MCPAdapter) Execute(ctx context.Context, req model.ActionRequest) (AdapterResult, error) {
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: mcp rate limit wait: %w", err)
	}

	body, err := json.Marshal(mcpActionRequest{
		ToolName:   req.ToolName,
		ToolAction: req.ToolAction,
		Arguments:  req.Arguments.Data,
		RequestID:  req.Context.RequestID.String(),
	})
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: marshal mcp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: build mcp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: mcp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: read mcp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return AdapterResult{Success: false, Detail: fmt.Sprintf("mcp server returned %d: %s", resp.StatusCode, string(respBody))}, nil
	}

	var parsed mcpActionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: unmarshal mcp response: %w", err)
	}
	return AdapterResult{Success: parsed.Success, Detail: parsed.Detail, Response: parsed.Result}, nil
}
