package repository

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
)

// ── Domain types for document approvals ──────────────────────────────────────

// Assignment is the approval request for one document.
type Assignment struct {
	ID             string              `json:"id"`
	DocumentType   string              `json:"document_type"`
	DocumentID     string              `json:"document_id"`
	Status         workflow.Status     `json:"status"`
	Approvers      []workflow.Approver `json:"approvers"`
	DocumentTitle  *string             `json:"document_title,omitempty"`
	DocumentNumber *string             `json:"document_number,omitempty"`
	DocumentURL    *string             `json:"document_url,omitempty"`
	Metadata       json.RawMessage     `json:"metadata,omitempty"`
	SourceTable    *string             `json:"source_table,omitempty"`
	Version        int                 `json:"version"`
	ReopenedAt     *time.Time          `json:"reopened_at,omitempty"` // decisions older than this are stale
	CreatedBy      string              `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// ApproverIDs returns the approver ids in display order.
func (a *Assignment) ApproverIDs() []string {
	return workflow.ApproverIDs(a.Approvers)
}

// Clone returns a copy that shares no slices with a.
func (a *Assignment) Clone() *Assignment {
	c := *a
	c.Approvers = append([]workflow.Approver(nil), a.Approvers...)
	if a.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), a.Metadata...)
	}
	return &c
}

// ApproversUpdate replaces an assignment's approver list and status in one
// write. The write only applies while the stored version equals Version.
type ApproversUpdate struct {
	ID        string
	Version   int
	Approvers []workflow.Approver
	Status    workflow.Status
	Reopen    bool // stamp reopened_at
}

// DocumentInfo is the denormalized display metadata kept on an assignment.
type DocumentInfo struct {
	Title  *string
	Number *string
	URL    *string
}

// Decision is one approver's verdict on an assignment.
type Decision struct {
	ID           string           `json:"id"`
	AssignmentID string           `json:"assignment_id"`
	DocumentType string           `json:"document_type"`
	DocumentID   string           `json:"document_id"`
	ApproverID   string           `json:"approver_id"`
	Decision     workflow.Verdict `json:"decision"`
	Comment      *string          `json:"comment,omitempty"`
	DecidedAt    time.Time        `json:"decided_at"`
}

// StatusHistoryEntry is one immutable row of a document's status trail.
type StatusHistoryEntry struct {
	ID             string          `json:"id"`
	AssignmentID   *string         `json:"assignment_id,omitempty"`
	DocumentType   string          `json:"document_type"`
	DocumentID     string          `json:"document_id"`
	PreviousStatus *string         `json:"previous_status,omitempty"`
	NextStatus     workflow.Status `json:"next_status"`
	ChangedBy      string          `json:"changed_by"`
	Comment        *string         `json:"comment,omitempty"`
	ChangedAt      time.Time       `json:"changed_at"`
}

// ApprovalRule supplies the default approvers for new assignments of a
// document type. Active rules are evaluated in priority order.
type ApprovalRule struct {
	ID           string              `json:"id"`
	DocumentType string              `json:"document_type"`
	RuleName     string              `json:"rule_name"`
	IsActive     bool                `json:"is_active"`
	Approvers    []workflow.Approver `json:"approvers"`
	Priority     int                 `json:"priority"` // lower = evaluated first
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Profile is a directory entry used to resolve approver display names.
type Profile struct {
	ID       string
	FullName *string
	Login    *string
}

// DisplayName prefers the full name, then the login. Returns "" when neither
// is set.
func (p *Profile) DisplayName() string {
	if p.FullName != nil {
		if name := strings.TrimSpace(*p.FullName); name != "" {
			return name
		}
	}
	if p.Login != nil {
		return strings.TrimSpace(*p.Login)
	}
	return ""
}

// isUUID reports whether id can be compared against a uuid column. Anything
// else cannot match a row and is reported as not found by the callers.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
