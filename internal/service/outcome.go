package service

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
)

// SideEffectKind names a best-effort secondary write.
type SideEffectKind string

const (
	SideEffectStatusHistory  SideEffectKind = "status_history"
	SideEffectDocumentStatus SideEffectKind = "document_status"
	SideEffectApprovalLink   SideEffectKind = "approval_link"
	SideEffectDocumentReset  SideEffectKind = "document_reset"
	SideEffectDocumentInfo   SideEffectKind = "document_info"
	SideEffectApprovalRule   SideEffectKind = "approval_rule"
	SideEffectDisplayNames   SideEffectKind = "display_names"
)

// SideEffectError is a failed secondary write. It never fails the operation
// that caused it.
type SideEffectError struct {
	Kind SideEffectKind
	Err  error
}

func (e SideEffectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e SideEffectError) Unwrap() error { return e.Err }

// Outcome is the result of a mutating workflow operation.
type Outcome struct {
	Assignment     *repository.Assignment
	PreviousStatus workflow.Status
	Created        bool
	SideEffects    []SideEffectError
}

// StatusChanged reports whether the operation moved the assignment's status.
func (o *Outcome) StatusChanged() bool {
	return o.Assignment != nil && o.Assignment.Status != o.PreviousStatus
}

// DecisionRow is one line of an assignment's decision sheet.
type DecisionRow struct {
	ApproverID   string           `json:"approver_id"`
	ApproverName string           `json:"approver_name"`
	Decision     workflow.Verdict `json:"decision"`
	Comment      *string          `json:"comment,omitempty"`
	DecidedAt    *time.Time       `json:"decided_at,omitempty"`
	Stale        bool             `json:"stale,omitempty"` // a verdict from before the last reopen
}
