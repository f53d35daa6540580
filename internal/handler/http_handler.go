package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	api "github.com/pesio-ai/be-doc-approvals/pkg/approvalsapi"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
	"github.com/pesio-ai/be-doc-approvals/pkg/logger"
	"github.com/pesio-ai/be-doc-approvals/pkg/middleware"
)

// RuleStore manages approval rules. Implemented by
// repository.ApprovalRulesRepository and memstore.Rules.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error)
	List(ctx context.Context, documentType string, activeOnly bool) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Delete(ctx context.Context, id string) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ApprovalWorkflowService
	rules   RuleStore
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc *service.ApprovalWorkflowService, rules RuleStore, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		rules:   rules,
		log:     log.WithComponent("http"),
	}
}

// Register mounts the API routes on r.
func (h *HTTPHandler) Register(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/assignments", h.EnsureAssignment).Methods(http.MethodPost)
	v1.HandleFunc("/assignments/{id}", h.GetAssignment).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/{id}", h.RemoveAssignment).Methods(http.MethodDelete)
	v1.HandleFunc("/assignments/{id}/approvers", h.SetApprovers).Methods(http.MethodPut)
	v1.HandleFunc("/assignments/{id}/approvers", h.ResetApprovers).Methods(http.MethodDelete)
	v1.HandleFunc("/assignments/{id}/decisions", h.RecordDecision).Methods(http.MethodPost)
	v1.HandleFunc("/assignments/{id}/decisions", h.ListDecisions).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/{id}/finalize", h.Finalize).Methods(http.MethodPost)

	v1.HandleFunc("/documents/{type}/{id}/assignment", h.GetAssignmentForDocument).Methods(http.MethodGet)
	v1.HandleFunc("/documents/{type}/{id}/history", h.StatusHistory).Methods(http.MethodGet)

	v1.HandleFunc("/approvals/pending", h.ListPending).Methods(http.MethodGet)

	if h.rules != nil {
		v1.HandleFunc("/approval-rules", h.ListRules).Methods(http.MethodGet)
		v1.HandleFunc("/approval-rules", h.CreateRule).Methods(http.MethodPost)
		v1.HandleFunc("/approval-rules/{id}", h.GetRule).Methods(http.MethodGet)
		v1.HandleFunc("/approval-rules/{id}", h.UpdateRule).Methods(http.MethodPut)
		v1.HandleFunc("/approval-rules/{id}", h.DeleteRule).Methods(http.MethodDelete)
	}
}

// ── Assignments ──────────────────────────────────────────────────────────────

// EnsureAssignment handles POST /assignments. Responds 201 when the
// assignment was created, 200 when it already existed.
func (h *HTTPHandler) EnsureAssignment(w http.ResponseWriter, r *http.Request) {
	var body api.EnsureAssignmentRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := ensureFromWire(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.service.EnsureAssignment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if out.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, toWireOutcome(out))
}

func (h *HTTPHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.GetAssignment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AssignmentResponse{Assignment: toWireAssignment(a)})
}

func (h *HTTPHandler) GetAssignmentForDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := h.service.GetAssignmentForDocument(r.Context(), vars["type"], vars["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AssignmentResponse{Assignment: toWireAssignment(a)})
}

func (h *HTTPHandler) RemoveAssignment(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.RemoveAssignment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireOutcome(out))
}

// SetApprovers handles PUT /assignments/{id}/approvers. An If-Match header
// carrying the assignment version makes the edit conditional.
func (h *HTTPHandler) SetApprovers(w http.ResponseWriter, r *http.Request) {
	var body api.SetApproversRequest
	if !h.decode(w, r, &body) {
		return
	}
	if v := strings.Trim(r.Header.Get("If-Match"), `"`); v != "" && body.ExpectedVersion == 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput("If-Match", "version must be an integer"))
			return
		}
		body.ExpectedVersion = n
	}

	out, err := h.service.SetApprovers(r.Context(), service.SetApproversRequest{
		AssignmentID:    mux.Vars(r)["id"],
		Approvers:       approversFromWire(body.Approvers),
		ExpectedVersion: body.ExpectedVersion,
		Comment:         body.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireOutcome(out))
}

func (h *HTTPHandler) ResetApprovers(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ResetApprovers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireOutcome(out))
}

// ── Decisions ────────────────────────────────────────────────────────────────

func (h *HTTPHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var body api.RecordDecisionRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := decisionFromWire(mux.Vars(r)["id"], body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.service.RecordDecision(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireOutcome(out))
}

func (h *HTTPHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.DecisionSheet(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ListDecisionsResponse{Decisions: toWireDecisions(rows)})
}

func (h *HTTPHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var body api.FinalizeRequest
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	out, err := h.service.Finalize(r.Context(), mux.Vars(r)["id"], body.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireOutcome(out))
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) StatusHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entries, err := h.service.StatusHistory(r.Context(), vars["type"], vars["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusHistoryResponse{Entries: toWireHistory(entries)})
}

// ListPending handles GET /approvals/pending?approver_id=. Without
// approver_id it lists the caller's queue.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.PendingForApprover(r.Context(), r.URL.Query().Get("approver_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ListAssignmentsResponse{Assignments: toWireAssignments(items)})
}

// ── Approval rules ───────────────────────────────────────────────────────────

type ruleRequest struct {
	DocumentType string         `json:"document_type"`
	RuleName     string         `json:"rule_name"`
	IsActive     *bool          `json:"is_active"`
	Approvers    []api.Approver `json:"approvers"`
	Priority     int            `json:"priority"`
}

func (req ruleRequest) toRule() (*repository.ApprovalRule, error) {
	if strings.TrimSpace(req.DocumentType) == "" {
		return nil, errors.InvalidInput("document_type", "document_type is required")
	}
	if strings.TrimSpace(req.RuleName) == "" {
		return nil, errors.InvalidInput("rule_name", "rule_name is required")
	}
	approvers, err := workflow.NormalizeApprovers(approversFromWire(req.Approvers))
	if err != nil {
		return nil, errors.InvalidInput("approvers", err.Error())
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &repository.ApprovalRule{
		DocumentType: strings.TrimSpace(req.DocumentType),
		RuleName:     strings.TrimSpace(req.RuleName),
		IsActive:     active,
		Approvers:    approvers,
		Priority:     req.Priority,
	}, nil
}

func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activeOnly, _ := strconv.ParseBool(q.Get("active"))
	rules, err := h.rules.List(r.Context(), q.Get("document_type"), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []*repository.ApprovalRule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleRequest
	if !h.decode(w, r, &body) {
		return
	}
	rule, err := body.toRule()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleRequest
	if !h.decode(w, r, &body) {
		return
	}
	rule, err := body.toRule()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rule.ID = mux.Vars(r)["id"]
	if err := h.rules.Update(r.Context(), rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{
		Code:      string(errors.CodeOf(err)),
		Message:   err.Error(),
		RequestID: middleware.GetRequestID(r.Context()),
	}
	var appErr *errors.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", body.RequestID).Msg("Request failed")
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
