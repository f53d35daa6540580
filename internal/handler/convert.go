package handler

import (
	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	api "github.com/pesio-ai/be-doc-approvals/pkg/approvalsapi"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// ── wire → service ───────────────────────────────────────────────────────────

func approversFromWire(in []api.Approver) []workflow.Approver {
	out := make([]workflow.Approver, len(in))
	for i, a := range in {
		out[i] = workflow.Approver{ID: a.ID, DisplayName: a.DisplayName}
	}
	return out
}

func ensureFromWire(req api.EnsureAssignmentRequest) (service.EnsureRequest, error) {
	out := service.EnsureRequest{
		DocumentType:   req.DocumentType,
		DocumentID:     req.DocumentID,
		Approvers:      approversFromWire(req.Approvers),
		DocumentTitle:  req.DocumentTitle,
		DocumentNumber: req.DocumentNumber,
		DocumentURL:    req.DocumentURL,
		Metadata:       req.Metadata,
		SourceTable:    req.SourceTable,
	}
	if req.InitialStatus != "" {
		status, err := workflow.ParseStatus(req.InitialStatus)
		if err != nil {
			return out, errors.InvalidInput("initial_status", err.Error())
		}
		out.InitialStatus = status
	}
	return out, nil
}

func decisionFromWire(assignmentID string, req api.RecordDecisionRequest) (service.DecisionRequest, error) {
	verdict, err := workflow.ParseVerdict(req.Decision)
	if err != nil {
		return service.DecisionRequest{}, errors.InvalidInput("decision", err.Error())
	}
	return service.DecisionRequest{
		AssignmentID: assignmentID,
		Decision:     verdict,
		Comment:      req.Comment,
	}, nil
}

// ── service → wire ───────────────────────────────────────────────────────────

func toWireAssignment(a *repository.Assignment) *api.Assignment {
	if a == nil {
		return nil
	}
	approvers := make([]api.Approver, len(a.Approvers))
	for i, ap := range a.Approvers {
		approvers[i] = api.Approver{ID: ap.ID, DisplayName: ap.DisplayName}
	}
	return &api.Assignment{
		ID:             a.ID,
		DocumentType:   a.DocumentType,
		DocumentID:     a.DocumentID,
		Status:         a.Status.String(),
		Approvers:      approvers,
		DocumentTitle:  a.DocumentTitle,
		DocumentNumber: a.DocumentNumber,
		DocumentURL:    a.DocumentURL,
		Metadata:       a.Metadata,
		SourceTable:    a.SourceTable,
		Version:        a.Version,
		ReopenedAt:     a.ReopenedAt,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toWireAssignments(in []*repository.Assignment) []*api.Assignment {
	out := make([]*api.Assignment, len(in))
	for i, a := range in {
		out[i] = toWireAssignment(a)
	}
	return out
}

func toWireOutcome(o *service.Outcome) *api.OutcomeResponse {
	resp := &api.OutcomeResponse{
		Assignment:     toWireAssignment(o.Assignment),
		PreviousStatus: o.PreviousStatus.String(),
		Created:        o.Created,
	}
	for _, se := range o.SideEffects {
		resp.SideEffects = append(resp.SideEffects, api.SideEffect{Kind: string(se.Kind), Message: se.Err.Error()})
	}
	return resp
}

func toWireDecisions(rows []service.DecisionRow) []api.DecisionRow {
	out := make([]api.DecisionRow, len(rows))
	for i, r := range rows {
		out[i] = api.DecisionRow{
			ApproverID:   r.ApproverID,
			ApproverName: r.ApproverName,
			Decision:     r.Decision.String(),
			Comment:      r.Comment,
			DecidedAt:    r.DecidedAt,
			Stale:        r.Stale,
		}
	}
	return out
}

func toWireHistory(entries []*repository.StatusHistoryEntry) []api.HistoryEntry {
	out := make([]api.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = api.HistoryEntry{
			ID:             e.ID,
			AssignmentID:   e.AssignmentID,
			PreviousStatus: e.PreviousStatus,
			NextStatus:     e.NextStatus.String(),
			ChangedBy:      e.ChangedBy,
			Comment:        e.Comment,
			ChangedAt:      e.ChangedAt,
		}
	}
	return out
}
