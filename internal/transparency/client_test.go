package transparency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineClientLogAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit-log.jsonl")

	client, err := NewOfflineClient(path)
	require.NoError(t, err)

	ref, err := client.LogEntry(context.Background(), []byte(`{"event":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, OfflineReference+path, ref)

	ok, err := client.VerifyEntry(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOfflineClientVerifyMissingFile(t *testing.T) {
	client := &OfflineClient{path: "/nonexistent/path/audit-log.jsonl"}
	ok, err := client.VerifyEntry(context.Background(), OfflineReference+"/nonexistent/path/audit-log.jsonl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteClientLogEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uuid":"abc123"}`))
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL)
	ref, err := client.LogEntry(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", ref)
}

func TestRemoteClientLogEntryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL)
	_, err := client.LogEntry(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var transparencyErr *TransparencyError
	assert.ErrorAs(t, err, &transparencyErr)
}

func TestRemoteClientVerifyEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL)
	ok, err := client.VerifyEntry(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
}
