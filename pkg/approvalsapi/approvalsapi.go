// Package approvalsapi defines the wire contract of the approvals gRPC
// service. Messages travel as google.protobuf.Struct values whose fields
// mirror the JSON shapes below, so the service needs no generated code.
package approvalsapi

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "docapprovals.v1.ApprovalsService"

// Method names, as registered in the service descriptor.
const (
	MethodEnsureAssignment         = "EnsureAssignment"
	MethodGetAssignment            = "GetAssignment"
	MethodGetAssignmentForDocument = "GetAssignmentForDocument"
	MethodSetApprovers             = "SetApprovers"
	MethodRecordDecision           = "RecordDecision"
	MethodFinalize                 = "Finalize"
	MethodRemoveAssignment         = "RemoveAssignment"
	MethodListDecisions            = "ListDecisions"
	MethodListPending              = "ListPending"
	MethodStatusHistory            = "StatusHistory"
)

// FullMethod returns the invoke path of a method, e.g.
// "/docapprovals.v1.ApprovalsService/Finalize".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Approver is one entry of an approver list.
type Approver struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

type EnsureAssignmentRequest struct {
	DocumentType   string          `json:"document_type"`
	DocumentID     string          `json:"document_id"`
	InitialStatus  string          `json:"initial_status,omitempty"`
	Approvers      []Approver      `json:"approvers,omitempty"`
	DocumentTitle  *string         `json:"document_title,omitempty"`
	DocumentNumber *string         `json:"document_number,omitempty"`
	DocumentURL    *string         `json:"document_url,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	SourceTable    string          `json:"source_table,omitempty"`
}

type AssignmentRef struct {
	ID string `json:"id"`
}

type DocumentRef struct {
	DocumentType string `json:"document_type"`
	DocumentID   string `json:"document_id"`
}

type SetApproversRequest struct {
	AssignmentID    string     `json:"assignment_id"`
	Approvers       []Approver `json:"approvers"`
	ExpectedVersion int        `json:"expected_version,omitempty"`
	Comment         string     `json:"comment,omitempty"`
}

type RecordDecisionRequest struct {
	AssignmentID string `json:"assignment_id"`
	Decision     string `json:"decision"`
	Comment      string `json:"comment,omitempty"`
}

type FinalizeRequest struct {
	AssignmentID string `json:"assignment_id"`
	Comment      string `json:"comment,omitempty"`
}

type ListPendingRequest struct {
	ApproverID string `json:"approver_id,omitempty"`
}

// Assignment is the wire form of an approval assignment.
type Assignment struct {
	ID             string          `json:"id"`
	DocumentType   string          `json:"document_type"`
	DocumentID     string          `json:"document_id"`
	Status         string          `json:"status"`
	Approvers      []Approver      `json:"approvers"`
	DocumentTitle  *string         `json:"document_title,omitempty"`
	DocumentNumber *string         `json:"document_number,omitempty"`
	DocumentURL    *string         `json:"document_url,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	SourceTable    *string         `json:"source_table,omitempty"`
	Version        int             `json:"version"`
	ReopenedAt     *time.Time      `json:"reopened_at,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SideEffect reports a secondary write that failed.
type SideEffect struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// OutcomeResponse answers every mutating method.
type OutcomeResponse struct {
	Assignment     *Assignment  `json:"assignment"`
	PreviousStatus string       `json:"previous_status,omitempty"`
	Created        bool         `json:"created,omitempty"`
	SideEffects    []SideEffect `json:"side_effects,omitempty"`
}

type AssignmentResponse struct {
	Assignment *Assignment `json:"assignment"`
}

type DecisionRow struct {
	ApproverID   string     `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Decision     string     `json:"decision"`
	Comment      *string    `json:"comment,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Stale        bool       `json:"stale,omitempty"`
}

type ListDecisionsResponse struct {
	Decisions []DecisionRow `json:"decisions"`
}

type ListAssignmentsResponse struct {
	Assignments []*Assignment `json:"assignments"`
}

type HistoryEntry struct {
	ID             string    `json:"id"`
	AssignmentID   *string   `json:"assignment_id,omitempty"`
	PreviousStatus *string   `json:"previous_status,omitempty"`
	NextStatus     string    `json:"next_status"`
	ChangedBy      string    `json:"changed_by"`
	Comment        *string   `json:"comment,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

type StatusHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// ToStruct encodes v through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
