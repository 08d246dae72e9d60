package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/adapters"
	"switchboard/internal/approvals"
	"switchboard/internal/audit"
	"switchboard/internal/model"
	"switchboard/internal/policy"
	"switchboard/internal/router"
	"switchboard/internal/signing"
	"switchboard/internal/transparency"
)

type stubAdapter struct{}

func (stubAdapter) Name() string { return "mcp" }
func (stubAdapter) Execute(context.Context, model.ActionRequest) (adapters.AdapterResult, error) {
	return adapters.AdapterResult{Success: true, Detail: "ok"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	transparencyClient, err := transparency.NewOfflineClient(filepath.Join(t.TempDir(), "t.jsonl"))
	require.NoError(t, err)
	auditSvc, err := audit.NewService(signing.NewHMACSigner("secret"), transparencyClient, filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	registry := adapters.NewRegistry()
	registry.Register(stubAdapter{})
	r := router.New(policy.NewLocalEngine(policy.DefaultConfig()), auditSvc, approvals.NewMemoryStore(), registry)
	return NewServer(r)
}

func newActionRequestJSON(t *testing.T) []byte {
	t.Helper()
	ctx, err := model.NewActionContext("agent", "principal", "tenant")
	require.NoError(t, err)
	body, err := json.Marshal(routeRequestBody{Request: model.ActionRequest{
		Context: ctx, ToolName: "filesystem:read", ToolAction: "read_file",
		Arguments: model.ActionArguments{Data: map[string]any{"path": "/tmp/x"}},
	}})
	require.NoError(t, err)
	return body
}

func TestHandleRouteExecutes(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/route", bytes.NewReader(newActionRequestJSON(t)))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "executed", out["result"])
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePolicyCheckDoesNotDispatch(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/policy/check", bytes.NewReader(newActionRequestJSON(t)))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	pending, err := srv.Router.Approvals.PendingDetails(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHandleAuditVerifyDefaultsVerifyRekorToTrue(t *testing.T) {
	srv := newTestServer(t)
	ctx, err := model.NewActionContext("agent", "principal", "tenant")
	require.NoError(t, err)
	record, err := srv.Router.Audit.Record(context.Background(), model.ActionRequest{
		Context: ctx, ToolName: "filesystem:read", ToolAction: "read_file",
		Arguments: model.ActionArguments{Data: map[string]any{"path": "/tmp/x"}},
	}, model.PolicyDecision{Allowed: true})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{"record": record})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/audit/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotNil(t, out["rekor_included"], "omitted verify_rekor must default to true, so the transparency log is consulted")
}

func TestHandleApproveUnknownID(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(approveRequestBody{ApprovalID: model.NewPendingApproval().ApprovalID.String(), Status: "approved", DecidedBy: "reviewer"})
	req := httptest.NewRequest(http.MethodPost, "/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
