package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
)

// AssignmentStore persists assignments. Implemented by
// repository.AssignmentRepository and memstore.Store.
type AssignmentStore interface {
	GetOrCreate(ctx context.Context, a *repository.Assignment) (*repository.Assignment, bool, error)
	GetByID(ctx context.Context, id string) (*repository.Assignment, error)
	GetByDocument(ctx context.Context, documentType, documentID string) (*repository.Assignment, error)
	UpdateApprovers(ctx context.Context, u repository.ApproversUpdate) (*repository.Assignment, error)
	UpdateStatus(ctx context.Context, id string, version int, status workflow.Status) (*repository.Assignment, error)
	UpdateDocumentInfo(ctx context.Context, id string, info repository.DocumentInfo) (*repository.Assignment, error)
	Delete(ctx context.Context, id string) error
	ListPendingForApprover(ctx context.Context, approverID string) ([]*repository.Assignment, error)
}

// DecisionRepository persists decisions keyed by (assignment, approver).
type DecisionRepository interface {
	Upsert(ctx context.Context, d *repository.Decision) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]*repository.Decision, error)
	DeleteByAssignment(ctx context.Context, assignmentID string) error
}

// StatusHistoryRepository is the append-only status trail.
type StatusHistoryRepository interface {
	Append(ctx context.Context, entry *repository.StatusHistoryEntry) error
	ListByDocument(ctx context.Context, documentType, documentID string) ([]*repository.StatusHistoryEntry, error)
}

// RuleSource supplies default approvers for new assignments.
type RuleSource interface {
	FindMatchingRule(ctx context.Context, documentType string) (*repository.ApprovalRule, error)
}

// DocumentSync writes back to the document that owns an assignment.
type DocumentSync interface {
	UpdateStatus(ctx context.Context, table, documentID string, status workflow.Status) error
	LinkApproval(ctx context.Context, table, documentID, assignmentID string) error
	ResetApproval(ctx context.Context, table, documentID string) error
}

// NameResolver looks up display names. Missing ids are left out of the map.
type NameResolver interface {
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Principal is the authenticated caller.
type Principal struct {
	ID          string
	DisplayName string
}

// IdentityProvider returns the caller of the current request.
type IdentityProvider interface {
	CurrentPrincipal(ctx context.Context) (Principal, error)
}

// MetricsRecorder observes workflow activity.
type MetricsRecorder interface {
	Transition(documentType string, from, to workflow.Status)
	Decision(documentType string, verdict workflow.Verdict)
	SideEffectFailed(kind SideEffectKind)
}

type nopMetrics struct{}

func (nopMetrics) Transition(string, workflow.Status, workflow.Status) {}
func (nopMetrics) Decision(string, workflow.Verdict)                   {}
func (nopMetrics) SideEffectFailed(SideEffectKind)                     {}

// Transactor runs fn atomically. Stores called with the context handed to fn
// take part in the transaction. Implemented by database.DB.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options holds the optional collaborators of ApprovalWorkflowService.
type Options struct {
	// Transactor makes assignment removal atomic. Nil runs the steps
	// directly, which suits stores that cannot fail halfway.
	Transactor Transactor

	Rules     RuleSource
	Documents DocumentSync
	Names     NameResolver
	Metrics   MetricsRecorder
	Clock     func() time.Time

	// AllowedSourceTables restricts the tables statuses propagate to. Empty
	// allows any valid table name.
	AllowedSourceTables []string

	// StatusRetries bounds compare-and-swap attempts per operation.
	StatusRetries int
}
