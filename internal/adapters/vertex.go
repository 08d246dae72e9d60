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

	"golang.org/x/oauth2/google"

	"switchboard/internal/model"
)

// DefaultVertexScope is requested from Google's Application Default
// Credentials when dispatching to Vertex Agent Engine.
const DefaultVertexScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexAdapter dispatches actions to a Vertex AI Agent Engine REST
// endpoint, for tool names carrying the "vertex:" prefix. Live dispatch
// is opt-in: by default it echoes the request back as a dry run, since
// most development environments don't carry Google credentials.
type VertexAdapter struct {
	live       bool
	endpoint   string
	httpClient *http.Client
}

// NewVertexAdapterFromEnv builds a Vertex adapter. Live mode requires
// SWITCHBOARD_ENABLE_VERTEX=true (case-insensitive) and
// VERTEX_AGENT_ENDPOINT (the full Agent Engine :query REST URL); any
// other value, including unset or "false", leaves Execute returning a
// dry-run echo.
func NewVertexAdapterFromEnv(ctx context.Context) (*VertexAdapter, error) {
	endpoint := os.Getenv("VERTEX_AGENT_ENDPOINT")
	if !strings.EqualFold(os.Getenv("SWITCHBOARD_ENABLE_VERTEX"), "true") {
		return &VertexAdapter{live: false, endpoint: endpoint}, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, DefaultVertexScope)
	if err != nil {
		return nil, fmt.Errorf("adapters: load google default credentials: %w", err)
	}
	return &VertexAdapter{
		live:     true,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &oauthTransport{base: http.DefaultTransport, tokenSource: creds.TokenSource},
		},
	}, nil
}

func (a *VertexAdapter) Name() string { return "vertex" }

type vertexQueryRequest struct {
	ToolAction string         `json:"tool_action"`
	Arguments  map[string]any `json:"arguments"`
	PrincipalID string        `json:"principal_id"`
}

// Execute posts the action to the configured Agent Engine endpoint, or
// echoes the request back when running in dry-run mode.
func (a *VertexAdapter) Execute(ctx context.Context, req model.ActionRequest) (AdapterResult, error) {
	payload := vertexQueryRequest{
		ToolAction:  req.ToolAction,
		Arguments:   req.Arguments.Data,
		PrincipalID: req.Context.PrincipalID,
	}

	if !a.live {
		return AdapterResult{
			Success: true,
			Detail:  "vertex dry run (SWITCHBOARD_ENABLE_VERTEX not true)",
			Response: map[string]any{
				"endpoint":  a.endpoint,
				"tool_name": req.ToolName,
				"echo":      payload,
			},
		}, nil
	}
	if a.endpoint == "" {
		return AdapterResult{}, fmt.Errorf("adapters: VERTEX_AGENT_ENDPOINT is required in live mode")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: marshal vertex request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: build vertex request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: vertex request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: read vertex response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return AdapterResult{Success: false, Detail: fmt.Sprintf("vertex agent engine returned %d: %s", resp.StatusCode, string(respBody))}, nil
	}

	var response map[string]any
	if err := json.Unmarshal(respBody, &response); err != nil {
		return AdapterResult{Success: true, Detail: "vertex response not json", Response: map[string]any{"raw": string(respBody)}}, nil
	}
	return AdapterResult{Success: true, Detail: "vertex query complete", Response: response}, nil
}
