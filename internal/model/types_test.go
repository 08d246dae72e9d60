package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActionContextValidation(t *testing.T) {
	_, err := NewActionContext("", "principal", "tenant")
	require.Error(t, err)

	ctx, err := NewActionContext(" agent ", "principal", "tenant")
	require.NoError(t, err)
	assert.Equal(t, "agent", ctx.AgentID)
	assert.Equal(t, SeverityP1, ctx.Severity)
	assert.NotEqual(t, ctx.RequestID.String(), "")
}

func TestActionArgumentsRedactedIgnoresUnknownKeys(t *testing.T) {
	args := ActionArguments{
		Data:           map[string]any{"username": "alice", "password": "hunter2"},
		RedactedFields: []string{"password", "ssn"}, // ssn isn't present in Data
	}
	redacted := args.Redacted()
	assert.Equal(t, "alice", redacted["username"])
	assert.Equal(t, "***", redacted["password"])
	_, present := redacted["ssn"]
	assert.False(t, present)
}

func TestActionArgumentsRedactedMasksNestedPath(t *testing.T) {
	args := ActionArguments{
		Data: map[string]any{
			"customer": map[string]any{"name": "alice", "ssn": "123-45-6789"},
		},
		RedactedFields: []string{"customer.ssn"},
	}
	redacted := args.Redacted()
	customer := redacted["customer"].(map[string]any)
	assert.Equal(t, "alice", customer["name"])
	assert.Equal(t, "***", customer["ssn"])
}

func TestApprovalDecisionResolveIsIdempotentlyTerminal(t *testing.T) {
	approval := NewPendingApproval()
	require.NoError(t, approval.Resolve(ApprovalApproved, "reviewer", "looks fine"))
	assert.Equal(t, ApprovalApproved, approval.Status)
	assert.Equal(t, "reviewer", *approval.DecidedBy)

	err := approval.Resolve(ApprovalDenied, "someone-else", "")
	require.Error(t, err, "re-resolving an already-terminal approval must fail cleanly")
	assert.Equal(t, ApprovalApproved, approval.Status, "status must not change on a failed re-resolve")
}

func TestApprovalDecisionResolveRejectsNonTerminalTarget(t *testing.T) {
	approval := NewPendingApproval()
	err := approval.Resolve(ApprovalPending, "reviewer", "")
	require.Error(t, err)
}

func TestAuditRecordCanonicalPayloadNullsSignatureFields(t *testing.T) {
	sig := "abc"
	algo := "HS256"
	url := "offline://data/audit-log.jsonl"
	rec := AuditRecord{Signature: &sig, SignatureAlgorithm: &algo, VerificationURL: &url}

	cp := rec.CanonicalPayload()
	assert.Nil(t, cp.Signature)
	assert.Nil(t, cp.SignatureAlgorithm)
	assert.Nil(t, cp.VerificationURL)
	// original record is untouched
	assert.NotNil(t, rec.Signature)
}
