package approvals

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/model"
)

func newSQLiteStore(t *testing.T) *PersistentStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.db")
	db, err := Open(DatabaseConfig{Driver: "sqlite", DSN: path, Dialect: DialectSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPersistentStore(db, DialectSQLite)
}

func TestPersistentStoreCreateAndResolve(t *testing.T) {
	store := newSQLiteStore(t)
	record, route := newRecordAndRoute(t)

	id, err := store.CreatePending(context.Background(), record, route)
	require.NoError(t, err)

	resolved, resolvedRoute, err := store.Resolve(context.Background(), id, model.ApprovalApproved, "reviewer", "ok")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resolved.Approval.Status)
	assert.Equal(t, "mcp", resolvedRoute.TargetAdapter)

	fetched, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, model.ApprovalApproved, fetched.Approval.Status)
}

func TestPersistentStoreResolveIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	record, route := newRecordAndRoute(t)
	id, err := store.CreatePending(context.Background(), record, route)
	require.NoError(t, err)

	_, _, err = store.Resolve(context.Background(), id, model.ApprovalDenied, "reviewer", "")
	require.NoError(t, err)

	_, _, err = store.Resolve(context.Background(), id, model.ApprovalApproved, "someone-else", "")
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPersistentStoreWaitForResolution(t *testing.T) {
	store := newSQLiteStore(t)
	record, route := newRecordAndRoute(t)
	id, err := store.CreatePending(context.Background(), record, route)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resolved, err := store.WaitForResolution(context.Background(), id)
		assert.NoError(t, err)
		assert.Equal(t, model.ApprovalApproved, resolved.Approval.Status)
	}()

	time.Sleep(20 * time.Millisecond)
	_, _, err = store.Resolve(context.Background(), id, model.ApprovalApproved, "reviewer", "")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForResolution did not return after resolve")
	}
}

func TestPersistentStorePendingDetails(t *testing.T) {
	store := newSQLiteStore(t)
	record, route := newRecordAndRoute(t)
	_, err := store.CreatePending(context.Background(), record, route)
	require.NoError(t, err)

	pending, err := store.PendingDetails(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRebindConvertsPlaceholdersForPostgresOnly(t *testing.T) {
	assert.Equal(t, "SELECT ? FROM t WHERE a = ?", rebind(DialectSQLite, "SELECT ? FROM t WHERE a = ?"))
	assert.Equal(t, "SELECT $1 FROM t WHERE a = $2", rebind(DialectPostgres, "SELECT ? FROM t WHERE a = ?"))
}
