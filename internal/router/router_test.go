package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/adapters"
	"switchboard/internal/approvals"
	"switchboard/internal/audit"
	"switchboard/internal/model"
	"switchboard/internal/policy"
	"switchboard/internal/signing"
	"switchboard/internal/transparency"
)

type fakeAdapter struct {
	name   string
	result adapters.AdapterResult
	err    error
	calls  int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Execute(context.Context, model.ActionRequest) (adapters.AdapterResult, error) {
	a.calls++
	return a.result, a.err
}

func newTestRouter(t *testing.T, cfg policy.Config) (*Router, *fakeAdapter) {
	t.Helper()
	transparencyClient, err := transparency.NewOfflineClient(filepath.Join(t.TempDir(), "transparency.jsonl"))
	require.NoError(t, err)
	auditSvc, err := audit.NewService(signing.NewHMACSigner("test-secret"), transparencyClient, filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)

	registry := adapters.NewRegistry()
	adapter := &fakeAdapter{name: "mcp", result: adapters.AdapterResult{Success: true, Detail: "done"}}
	registry.Register(adapter)

	r := New(policy.NewLocalEngine(cfg), auditSvc, approvals.NewMemoryStore(), registry)
	return r, adapter
}

func newRequest(t *testing.T, mutate func(*model.ActionRequest)) model.ActionRequest {
	t.Helper()
	ctx, err := model.NewActionContext("agent-1", "principal-1", "tenant-1")
	require.NoError(t, err)
	req := model.ActionRequest{Context: ctx, ToolName: "filesystem:read", ToolAction: "read_file",
		Arguments: model.ActionArguments{Data: map[string]any{"path": "/tmp/x"}}}
	if mutate != nil {
		mutate(&req)
	}
	return req
}

func TestRouteDispatchesAllowedRequest(t *testing.T) {
	r, adapter := newTestRouter(t, policy.DefaultConfig())
	executed, err := r.Route(context.Background(), newRequest(t, nil))
	require.NoError(t, err)
	assert.True(t, executed.Result.Success)
	assert.Equal(t, 1, adapter.calls)
	assert.NotEmpty(t, executed.AuditRecord.Signature)
}

func TestRouteBlocksDeniedRequest(t *testing.T) {
	r, adapter := newTestRouter(t, policy.DefaultConfig())

	req := newRequest(t, func(r *model.ActionRequest) {
		r.Context.SensitivityTags = []string{"financial"}
		r.Context.Severity = model.SeverityP0
	})
	_, err := r.Route(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsBlocked(err))
	assert.Equal(t, 0, adapter.calls)
}

func TestRouteQueuesApprovalThenApproveResumeDispatches(t *testing.T) {
	r, adapter := newTestRouter(t, policy.DefaultConfig())

	req := newRequest(t, func(r *model.ActionRequest) { r.Context.PII = true })
	_, err := r.Route(context.Background(), req)
	require.Error(t, err)
	require.True(t, IsApprovalRequired(err))

	var approvalErr *ApprovalRequiredError
	require.ErrorAs(t, err, &approvalErr)
	assert.Equal(t, 0, adapter.calls)

	executed, err := r.ApproveResume(context.Background(), approvalErr.ApprovalID, model.ApprovalApproved, "reviewer", "looks fine")
	require.NoError(t, err)
	assert.True(t, executed.Result.Success)
	assert.Equal(t, 1, adapter.calls)
}

func TestApproveResumeDeniedDoesNotDispatch(t *testing.T) {
	r, adapter := newTestRouter(t, policy.DefaultConfig())

	req := newRequest(t, func(r *model.ActionRequest) { r.Context.PII = true })
	_, err := r.Route(context.Background(), req)
	require.Error(t, err)
	var approvalErr *ApprovalRequiredError
	require.ErrorAs(t, err, &approvalErr)

	_, err = r.ApproveResume(context.Background(), approvalErr.ApprovalID, model.ApprovalDenied, "reviewer", "no")
	require.NoError(t, err)
	assert.Equal(t, 0, adapter.calls)
}
