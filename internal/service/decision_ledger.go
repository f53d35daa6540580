package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// RecordInput is one verdict to store.
type RecordInput struct {
	AssignmentID string
	DocumentType string
	DocumentID   string
	ApproverID   string
	Decision     workflow.Verdict
	Comment      string
}

// DecisionLedger validates and stores approver decisions. It knows nothing
// about assignment status; the workflow service gates who may write.
type DecisionLedger struct {
	repo DecisionRepository
}

// NewDecisionLedger creates a new DecisionLedger.
func NewDecisionLedger(repo DecisionRepository) *DecisionLedger {
	return &DecisionLedger{repo: repo}
}

// Record upserts the approver's decision. Nothing is written when the input
// is invalid.
func (l *DecisionLedger) Record(ctx context.Context, in RecordInput) (*repository.Decision, error) {
	if strings.TrimSpace(in.AssignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment_id is required")
	}
	if strings.TrimSpace(in.ApproverID) == "" {
		return nil, errors.InvalidInput("approver_id", "approver_id is required")
	}
	if field, msg, ok := workflow.ValidateDecision(in.Decision, in.Comment); !ok {
		return nil, errors.InvalidInput(field, msg)
	}

	d := &repository.Decision{
		AssignmentID: in.AssignmentID,
		DocumentType: in.DocumentType,
		DocumentID:   in.DocumentID,
		ApproverID:   in.ApproverID,
		Decision:     in.Decision,
	}
	if c := strings.TrimSpace(in.Comment); c != "" {
		d.Comment = &c
	}

	if err := l.repo.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the assignment's decisions, one per approver.
func (l *DecisionLedger) List(ctx context.Context, assignmentID string) ([]*repository.Decision, error) {
	return l.repo.ListByAssignment(ctx, assignmentID)
}

// DeleteAll removes every decision of an assignment. Only assignment removal
// calls this, inside the same transaction as the assignment delete.
func (l *DecisionLedger) DeleteAll(ctx context.Context, assignmentID string) error {
	return l.repo.DeleteByAssignment(ctx, assignmentID)
}
