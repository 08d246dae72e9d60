package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/model"
)

func TestRemoteEngineUsesOPAResultWhenAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"allow":false,"reason":"remote says no","policy_ids":["remote:deny"],"risk_level":"high"}}`))
	}))
	defer srv.Close()

	engine := NewRemoteEngine(NewOPAClient(srv.URL), NewLocalEngine(DefaultConfig()))
	decision, err := engine.Evaluate(context.Background(), req(t, model.SeverityP1, "tenant-a", nil))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "remote says no", decision.Reason)
}

func TestRemoteEngineFallsBackToLocalOnTransportFailure(t *testing.T) {
	// No server listening at this URL: every request errors out.
	engine := NewRemoteEngine(NewOPAClient("http://127.0.0.1:0"), NewLocalEngine(DefaultConfig()))
	decision, err := engine.Evaluate(context.Background(), req(t, model.SeverityP1, "tenant-a", nil))
	require.NoError(t, err, "a remote transport failure must fall back, never propagate")
	assert.True(t, decision.Allowed)
}

func TestRemoteEngineFallsBackOnMissingResultKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	engine := NewRemoteEngine(NewOPAClient(srv.URL), NewLocalEngine(DefaultConfig()))
	decision, err := engine.Evaluate(context.Background(), req(t, model.SeverityP1, "tenant-a", nil))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
