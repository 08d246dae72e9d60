// Package httpapi is the thin HTTP surface the external collaborator
// (an agent runtime, or a human approvals UI) talks to. It is a minimal
// concrete implementation of spec.md §6's call shapes, using
// net/http.ServeMux's Go 1.22+ method+pattern routing the way the
// teacher's cmd/auditd/main.go does, rather than a third-party router.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/approvals"
	"switchboard/internal/model"
	"switchboard/internal/router"
)

// Server wires a *router.Router into HTTP handlers.
type Server struct {
	Router *router.Router
}

// NewServer builds a Server around r.
func NewServer(r *router.Router) *Server {
	return &Server{Router: r}
}

// Mux builds the routed handler: POST /route, POST /approve, POST
// /policy/check, GET /approvals/pending, POST /audit/verify, GET /healthz.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /route", s.handleRoute)
	mux.HandleFunc("POST /approve", s.handleApprove)
	mux.HandleFunc("POST /policy/check", s.handlePolicyCheck)
	mux.HandleFunc("GET /approvals/pending", s.handlePendingApprovals)
	mux.HandleFunc("POST /audit/verify", s.handleAuditVerify)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("httpapi: encode response failed", "err", err)
	}
}

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

type routeRequestBody struct {
	Request model.ActionRequest `json:"request"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var body routeRequestBody
	if err := readJSON(r, &body); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	executed, err := s.Router.Route(r.Context(), body.Request)
	if err != nil {
		var blocked *router.BlockedError
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"result": "blocked",
				"policy": map[string]any{"reason": blocked.Reason, "policy_ids": blocked.PolicyIDs},
				"adapter": nil,
			})
			return
		}
		var pending *router.ApprovalRequiredError
		if errors.As(err, &pending) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"result":      "pending_approval",
				"approval_id": pending.ApprovalID,
				"policy":      map[string]any{"reason": pending.Reason},
			})
			return
		}
		slog.Error("httpapi: route failed", "err", err)
		http.Error(w, "route failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":   "executed",
		"detail":   executed.Result.Detail,
		"adapter":  executed.AuditRecord.Request.ToolName,
		"policy":   executed.Decision,
		"response": executed.Result.Response,
	})
}

type approveRequestBody struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
	DecidedBy  string `json:"decided_by"`
	Notes      string `json:"notes,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequestBody
	if err := readJSON(r, &body); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	approvalID, err := uuid.Parse(body.ApprovalID)
	if err != nil {
		http.Error(w, "invalid approval_id", http.StatusBadRequest)
		return
	}
	status := model.ApprovalStatus(body.Status)
	if !status.IsTerminal() {
		http.Error(w, "status must be approved or denied, not pending", http.StatusBadRequest)
		return
	}

	executed, err := s.Router.ApproveResume(r.Context(), approvalID, status, body.DecidedBy, body.Notes)
	if err != nil {
		var notFound *approvals.NotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, notFound.Error(), http.StatusNotFound)
			return
		}
		slog.Error("httpapi: approve failed", "err", err)
		http.Error(w, "approve failed", http.StatusInternalServerError)
		return
	}

	if status == model.ApprovalDenied {
		writeJSON(w, http.StatusOK, map[string]any{"result": "denied", "approval_id": approvalID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":      "executed",
		"approval_id": approvalID,
		"adapter":     executed.AuditRecord.Request.ToolName,
		"detail":      executed.Result.Detail,
	})
}

func (s *Server) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	var body routeRequestBody
	if err := readJSON(r, &body); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	decision, err := s.Router.Policy.Evaluate(r.Context(), body.Request)
	if err != nil {
		slog.Error("httpapi: policy check failed", "err", err)
		http.Error(w, "policy check failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy": decision})
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Router.Approvals.PendingDetails(r.Context())
	if err != nil {
		slog.Error("httpapi: list pending approvals failed", "err", err)
		http.Error(w, "list pending approvals failed", http.StatusInternalServerError)
		return
	}
	list := make([]approvals.PendingApproval, 0, len(pending))
	for _, p := range pending {
		list = append(list, p)
	}
	writeJSON(w, http.StatusOK, list)
}

type auditVerifyRequestBody struct {
	Record      model.AuditRecord `json:"record"`
	VerifyRekor *bool             `json:"verify_rekor,omitempty"`
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	var body auditVerifyRequestBody
	if err := readJSON(r, &body); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	verifyRekor := true
	if body.VerifyRekor != nil {
		verifyRekor = *body.VerifyRekor
	}
	result, err := s.Router.Audit.Verify(r.Context(), body.Record, verifyRekor)
	if err != nil {
		slog.Error("httpapi: audit verify failed", "err", err)
		http.Error(w, "audit verify failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":        result.Verified,
		"signature_valid": result.SignatureValid,
		"rekor_included":  result.RekorIncluded,
		"failure_reason":  result.FailureReason,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthStatus{
		Service:   "switchboard",
		Status:    "ok",
		CheckedAt: time.Now().UTC(),
	})
}
