package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/model"
)

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	ctx, err := model.NewActionContext("agent", "principal", "tenant")
	require.NoError(t, err)
	req := model.ActionRequest{Context: ctx, ToolName: "mcp:tool", ToolAction: "run"}

	first := model.NewAuditRecord(req, model.PolicyDecision{Allowed: true})
	first.PrevHash = GenesisHash
	first.EventHash = ComputeEventHash(first)

	second := model.NewAuditRecord(req, model.PolicyDecision{Allowed: true})
	second.PrevHash = "not-the-real-prev-hash"
	second.EventHash = ComputeEventHash(second)

	brokenAt, err := VerifyChain([]model.AuditRecord{first, second})
	require.Error(t, err)
	assert.Equal(t, 1, brokenAt)
}

func TestVerifyChainStatusEmpty(t *testing.T) {
	status := VerifyChainStatus(nil)
	assert.True(t, status.Valid)
	assert.Equal(t, 0, status.TotalRecords)
}
