package approvals

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/model"
)

func newRecordAndRoute(t *testing.T) (model.AuditRecord, model.RouteDecision) {
	t.Helper()
	ctx, err := model.NewActionContext("agent", "principal", "tenant")
	require.NoError(t, err)
	req := model.ActionRequest{Context: ctx, ToolName: "mcp:tool", ToolAction: "run"}
	record := model.NewAuditRecord(req, model.PolicyDecision{Allowed: true, RequiresApproval: true})
	route := model.RouteDecision{Context: ctx, Policy: record.PolicyDecision, TargetAdapter: "mcp", AuditEventID: record.EventID}
	return record, route
}

func TestMemoryStoreCreateAndResolve(t *testing.T) {
	store := NewMemoryStore()
	record, route := newRecordAndRoute(t)

	id, err := store.CreatePending(context.Background(), record, route)
	require.NoError(t, err)

	resolved, resolvedRoute, err := store.Resolve(context.Background(), id, model.ApprovalApproved, "reviewer", "ok")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resolved.Approval.Status)
	assert.Equal(t, "mcp", resolvedRoute.TargetAdapter)
}

// P8: idempotent resolve — a second resolve on the same ID must fail
// cleanly, not silently re-apply.
func TestMemoryStoreResolveIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	record, route := newRecordAndRoute(t)
	id, err := store.CreatePending(context.Background(), record, route)
	require.NoError(t, err)

	_, _, err = store.Resolve(context.Background(), id, model.ApprovalApproved, "reviewer", "")
	require.NoError(t, err)

	_, _, err = store.Resolve(context.Background(), id, model.ApprovalDenied, "someone-else", "")
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMemoryStoreResolveUnknownID(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := store.Resolve(context.Background(), model.NewPendingApproval().ApprovalID, model.ApprovalApproved, "x", "")
	require.Error(t, err)
}

func TestMemoryStoreConcurrentCreatesAreSerialized(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	n := 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, route := newRecordAndRoute(t)
			_, err := store.CreatePending(context.Background(), record, route)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := store.PendingDetails(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, n)
}
