package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"switchboard/internal/model"
)

// HashAlgorithm identifies the hashing algorithm used for the chain.
const HashAlgorithm = "sha256"

// GenesisHash is the chain's starting hash, used as the PrevHash of the
// first record ever appended.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashInput mirrors the fields of an AuditRecord that matter for tamper
// evidence, deliberately excluding EventHash itself to avoid the record
// hashing its own output.
type hashInput struct {
	EventID       string `json:"event_id"`
	Timestamp     string `json:"timestamp"`
	RequestID     string `json:"request_id"`
	ToolName      string `json:"tool_name"`
	ToolAction    string `json:"tool_action"`
	Allowed       bool   `json:"allowed"`
	ApprovalID    string `json:"approval_id,omitempty"`
	PrevHash      string `json:"prev_hash,omitempty"`
	SignatureHash string `json:"signature_hash,omitempty"`
}

// ComputeEventHash computes the chain hash of record, covering its
// identity, request shape, and policy outcome, plus a hash of its
// signature (rather than the raw signature bytes) so the chain doesn't
// need to be recomputed if the signature is re-derived identically.
func ComputeEventHash(record model.AuditRecord) string {
	input := hashInput{
		EventID:    record.EventID.String(),
		Timestamp:  record.Timestamp.Format(time.RFC3339Nano),
		RequestID:  record.Request.Context.RequestID.String(),
		ToolName:   record.Request.ToolName,
		ToolAction: record.Request.ToolAction,
		Allowed:    record.PolicyDecision.Allowed,
		PrevHash:   record.PrevHash,
	}
	if record.Approval != nil {
		input.ApprovalID = record.Approval.ApprovalID.String()
	}
	if record.Signature != nil {
		sigHash := sha256.Sum256([]byte(*record.Signature))
		input.SignatureHash = hex.EncodeToString(sigHash[:])
	}

	data, err := json.Marshal(input)
	if err != nil {
		data = []byte(record.EventID.String())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyEventHash reports whether record's own EventHash matches what
// ComputeEventHash would produce for it right now. An empty EventHash is
// treated as trivially valid (a legacy/unhashed record).
func VerifyEventHash(record model.AuditRecord) bool {
	if record.EventHash == "" {
		return true
	}
	return ComputeEventHash(record) == record.EventHash
}

// VerifyChain walks records in append order and checks both each
// record's own hash and that its PrevHash links to the previous record.
// Returns the index of the first broken link, or -1 if the whole chain
// verifies.
func VerifyChain(records []model.AuditRecord) (int, error) {
	if len(records) == 0 {
		return -1, nil
	}
	for i, rec := range records {
		if rec.EventHash != "" && !VerifyEventHash(rec) {
			return i, fmt.Errorf("audit: record %s has an invalid hash", rec.EventID)
		}
		if i == 0 {
			if rec.PrevHash != "" && rec.PrevHash != GenesisHash {
				return i, fmt.Errorf("audit: first record %s has an unexpected prev_hash", rec.EventID)
			}
			continue
		}
		prev := records[i-1]
		expected := prev.EventHash
		if expected == "" {
			expected = ComputeEventHash(prev)
		}
		if rec.PrevHash != "" && rec.PrevHash != expected {
			return i, fmt.Errorf("audit: record %s has a broken chain link", rec.EventID)
		}
	}
	return -1, nil
}

// ChainStatus summarizes the result of a full-log integrity check.
type ChainStatus struct {
	Valid        bool
	TotalRecords int
	HashedRecords int
	LegacyRecords int
	BrokenAt     int
	Error        string
	LastHash     string
}

// VerifyChainStatus performs VerifyChain and packages the result for
// operational tooling. The /audit/verify HTTP endpoint does not call it;
// that endpoint checks a single record's signature only.
func VerifyChainStatus(records []model.AuditRecord) ChainStatus {
	status := ChainStatus{TotalRecords: len(records), BrokenAt: -1}
	if len(records) == 0 {
		status.Valid = true
		return status
	}
	for _, r := range records {
		if r.EventHash != "" {
			status.HashedRecords++
		} else {
			status.LegacyRecords++
		}
	}
	last := records[len(records)-1]
	if last.EventHash != "" {
		status.LastHash = last.EventHash
	} else {
		status.LastHash = ComputeEventHash(last)
	}
	brokenAt, err := VerifyChain(records)
	if err != nil {
		status.Valid = false
		status.BrokenAt = brokenAt
		status.Error = err.Error()
	} else {
		status.Valid = true
	}
	return status
}
