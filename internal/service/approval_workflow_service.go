package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
	"github.com/pesio-ai/be-doc-approvals/pkg/logger"
)

var tracer = otel.Tracer("approvals")

const defaultStatusRetries = 5

// ApprovalWorkflowService runs the document approval state machine over an
// assignment store and a decision ledger.
type ApprovalWorkflowService struct {
	assignments   AssignmentStore
	ledger        *DecisionLedger
	tx            Transactor
	history       StatusHistoryRepository
	identity      IdentityProvider
	rules         RuleSource
	documents     DocumentSync
	names         NameResolver
	metrics       MetricsRecorder
	now           func() time.Time
	allowedTables map[string]struct{}
	retries       int
	events        *eventBus
	log           *logger.Logger
}

// NewApprovalWorkflowService creates a new ApprovalWorkflowService.
func NewApprovalWorkflowService(
	assignments AssignmentStore,
	decisions DecisionRepository,
	history StatusHistoryRepository,
	identity IdentityProvider,
	log *logger.Logger,
	opts Options,
) *ApprovalWorkflowService {
	log = log.WithComponent("approval_workflow")
	s := &ApprovalWorkflowService{
		assignments: assignments,
		ledger:      NewDecisionLedger(decisions),
		tx:          opts.Transactor,
		history:     history,
		identity:    identity,
		rules:       opts.Rules,
		documents:   opts.Documents,
		names:       opts.Names,
		metrics:     opts.Metrics,
		now:         opts.Clock,
		retries:     opts.StatusRetries,
		events:      newEventBus(log),
		log:         log,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.retries <= 0 {
		s.retries = defaultStatusRetries
	}
	if len(opts.AllowedSourceTables) > 0 {
		s.allowedTables = make(map[string]struct{}, len(opts.AllowedSourceTables))
		for _, t := range opts.AllowedSourceTables {
			s.allowedTables[t] = struct{}{}
		}
	}
	return s
}

// Subscribe registers h for every assignment event. The returned func
// removes the subscription.
func (s *ApprovalWorkflowService) Subscribe(h EventHandler) (unsubscribe func()) {
	return s.events.subscribe(h)
}

// ── Assignment creation ──────────────────────────────────────────────────────

// EnsureRequest identifies a document and the defaults for a new assignment.
type EnsureRequest struct {
	DocumentType   string
	DocumentID     string
	InitialStatus  workflow.Status // draft when empty
	Approvers      []workflow.Approver
	DocumentTitle  *string
	DocumentNumber *string
	DocumentURL    *string
	Metadata       json.RawMessage
	SourceTable    string // document table that mirrors the approval status
}

// EnsureAssignment returns the document's assignment, creating it on first
// use. Pre-selected approvers, or those of a matching approval rule, are
// stored with a new assignment. For an existing one the display metadata is
// refreshed and everything else in req is ignored.
func (s *ApprovalWorkflowService) EnsureAssignment(ctx context.Context, req EnsureRequest) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "Approvals.Service.EnsureAssignment", trace.WithAttributes(
		attribute.String("document.type", req.DocumentType),
		attribute.String("document.id", req.DocumentID),
	))
	defer func() { finishSpan(span, err) }()

	if err := validateDocumentRef(req.DocumentType, req.DocumentID); err != nil {
		return nil, err
	}
	initial := req.InitialStatus
	if initial == "" {
		initial = workflow.StatusDraft
	}
	if initial != workflow.StatusDraft && initial != workflow.StatusInReview {
		return nil, errors.InvalidInput("initial_status", "initial status must be draft or in_review")
	}
	if req.SourceTable != "" {
		if err := s.checkSourceTable(req.SourceTable); err != nil {
			return nil, err
		}
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		return nil, errors.InvalidInput("metadata", "metadata must be valid JSON")
	}

	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}

	out = &Outcome{}
	existing, err := s.assignments.GetByDocument(ctx, req.DocumentType, req.DocumentID)
	switch {
	case err == nil:
		return s.refreshDocumentInfo(ctx, existing, req, out), nil
	case !errors.HasCode(err, errors.ErrCodeNotFound):
		return nil, err
	}

	approvers := req.Approvers
	if len(approvers) == 0 && s.rules != nil {
		rule, err := s.rules.FindMatchingRule(ctx, req.DocumentType)
		if err != nil {
			s.sideEffect(out, SideEffectApprovalRule, req.DocumentType, req.DocumentID, err)
		} else if rule != nil {
			approvers = rule.Approvers
		}
	}
	approvers, err = workflow.NormalizeApprovers(approvers)
	if err != nil {
		return nil, errors.InvalidInput("approvers", err.Error())
	}
	approvers = s.fillDisplayNames(ctx, approvers, nil, out, req.DocumentType, req.DocumentID)

	status := initial
	if len(approvers) > 0 {
		status = workflow.Resolve(initial, workflow.ApproverIDs(approvers), nil)
	}

	candidate := &repository.Assignment{
		DocumentType:   req.DocumentType,
		DocumentID:     req.DocumentID,
		Status:         status,
		Approvers:      approvers,
		DocumentTitle:  req.DocumentTitle,
		DocumentNumber: req.DocumentNumber,
		DocumentURL:    req.DocumentURL,
		Metadata:       req.Metadata,
		CreatedBy:      principal.ID,
	}
	if req.SourceTable != "" {
		candidate.SourceTable = &req.SourceTable
	}

	a, created, err := s.assignments.GetOrCreate(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !created {
		// Another caller created it between our read and insert.
		out.SideEffects = nil
		return s.refreshDocumentInfo(ctx, a, req, out), nil
	}

	out.Assignment = a
	out.Created = true
	span.SetAttributes(attribute.String("assignment.id", a.ID))

	s.appendHistory(ctx, out, a, nil, a.Status, principal.ID, "")
	s.metrics.Transition(a.DocumentType, "", a.Status)
	if a.SourceTable != nil && s.documents != nil {
		if err := s.documents.LinkApproval(ctx, *a.SourceTable, a.DocumentID, a.ID); err != nil {
			s.sideEffect(out, SideEffectApprovalLink, a.DocumentType, a.DocumentID, err)
		}
	}

	s.log.Info().
		Str("assignment_id", a.ID).
		Str("document_type", a.DocumentType).
		Str("document_id", a.DocumentID).
		Str("status", a.Status.String()).
		Int("approvers", len(a.Approvers)).
		Msg("Approval assignment created")

	s.emit(EventAssignmentCreated, a, principal.ID, nil)
	return out, nil
}

// refreshDocumentInfo updates the stored title, number and url when req
// carries different values. Failure is recorded, not returned.
func (s *ApprovalWorkflowService) refreshDocumentInfo(ctx context.Context, a *repository.Assignment, req EnsureRequest, out *Outcome) *Outcome {
	out.Assignment = a
	out.PreviousStatus = a.Status

	info := repository.DocumentInfo{}
	if differs(req.DocumentTitle, a.DocumentTitle) {
		info.Title = req.DocumentTitle
	}
	if differs(req.DocumentNumber, a.DocumentNumber) {
		info.Number = req.DocumentNumber
	}
	if differs(req.DocumentURL, a.DocumentURL) {
		info.URL = req.DocumentURL
	}
	if info.Title == nil && info.Number == nil && info.URL == nil {
		return out
	}

	updated, err := s.assignments.UpdateDocumentInfo(ctx, a.ID, info)
	if err != nil {
		s.sideEffect(out, SideEffectDocumentInfo, a.DocumentType, a.DocumentID, err)
		return out
	}
	out.Assignment = updated
	return out
}

// ── Approver edits ───────────────────────────────────────────────────────────

// SetApproversRequest replaces an assignment's approver list.
type SetApproversRequest struct {
	AssignmentID    string
	Approvers       []workflow.Approver
	ExpectedVersion int // when > 0 the edit fails with a conflict if the assignment moved on
	Comment         string
}

// SetApprovers replaces the approver list and recomputes the status. Editing
// an approved or rejected assignment reopens it: the status returns to
// in_review and earlier verdicts no longer count. Finalized assignments
// cannot be edited.
func (s *ApprovalWorkflowService) SetApprovers(ctx context.Context, req SetApproversRequest) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "Approvals.Service.SetApprovers", trace.WithAttributes(
		attribute.String("assignment.id", req.AssignmentID),
		attribute.Int("approvers", len(req.Approvers)),
	))
	defer func() { finishSpan(span, err) }()

	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment_id is required")
	}
	approvers, err := workflow.NormalizeApprovers(req.Approvers)
	if err != nil {
		return nil, errors.InvalidInput("approvers", err.Error())
	}
	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}

	out = &Outcome{}
	var (
		before, after *repository.Assignment
		reopen        bool
		nameErr       error
	)
	for attempt := 1; ; attempt++ {
		a, err := s.assignments.GetByID(ctx, req.AssignmentID)
		if err != nil {
			return nil, err
		}
		if a.Status == workflow.StatusFinalized {
			return nil, errors.AssignmentClosed(a.Status.String(), "edit approvers")
		}
		if req.ExpectedVersion > 0 && a.Version != req.ExpectedVersion {
			return nil, errors.Conflict(fmt.Sprintf("assignment %s is at version %d, expected %d",
				a.ID, a.Version, req.ExpectedVersion))
		}

		var named []workflow.Approver
		named, nameErr = s.resolveNames(ctx, approvers, a.Approvers)

		decisions, err := s.ledger.List(ctx, a.ID)
		if err != nil {
			return nil, err
		}

		// Editing a resolved assignment always stamps reopened_at, even when
		// the new list is empty.
		reopen = a.Status.Resolved()
		next := workflow.Resolve(a.Status, workflow.ApproverIDs(named), currentDecisions(a, decisions))
		if reopen && len(named) > 0 {
			next = workflow.StatusInReview
		}

		updated, err := s.assignments.UpdateApprovers(ctx, repository.ApproversUpdate{
			ID:        a.ID,
			Version:   a.Version,
			Approvers: named,
			Status:    next,
			Reopen:    reopen,
		})
		if err == nil {
			before, after = a, updated
			break
		}
		if !errors.HasCode(err, errors.ErrCodeConflict) || req.ExpectedVersion > 0 || attempt >= s.retries {
			return nil, err
		}
		s.log.Debug().Str("assignment_id", a.ID).Int("attempt", attempt).Msg("Approver update raced, retrying")
	}

	out.Assignment = after
	out.PreviousStatus = before.Status
	if nameErr != nil {
		s.sideEffect(out, SideEffectDisplayNames, after.DocumentType, after.DocumentID, nameErr)
	}
	if after.Status != before.Status || reopen {
		prev := before.Status
		s.appendHistory(ctx, out, after, &prev, after.Status, principal.ID, req.Comment)
	}
	if after.Status != before.Status {
		s.metrics.Transition(after.DocumentType, before.Status, after.Status)
	}

	s.log.Info().
		Str("assignment_id", after.ID).
		Str("previous_status", before.Status.String()).
		Str("status", after.Status.String()).
		Bool("reopened", reopen).
		Int("approvers", len(after.Approvers)).
		Msg("Approvers updated")

	s.emit(EventApproversChanged, after, principal.ID, nil)
	return out, nil
}

// ResetApprovers clears the approver list, returning the assignment to draft.
func (s *ApprovalWorkflowService) ResetApprovers(ctx context.Context, assignmentID string) (*Outcome, error) {
	return s.SetApprovers(ctx, SetApproversRequest{AssignmentID: assignmentID, Approvers: []workflow.Approver{}})
}

// ── Decisions ────────────────────────────────────────────────────────────────

// DecisionRequest is one approver's verdict.
type DecisionRequest struct {
	AssignmentID string
	ApproverID   string // the caller when empty
	Decision     workflow.Verdict
	Comment      string
}

// RecordDecision stores the caller's verdict and recomputes the status. Only
// members of the approver list may vote, and only while the assignment is in
// draft or in_review. A resulting approved or rejected status is mirrored to
// the document's source table.
func (s *ApprovalWorkflowService) RecordDecision(ctx context.Context, req DecisionRequest) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "Approvals.Service.RecordDecision", trace.WithAttributes(
		attribute.String("assignment.id", req.AssignmentID),
		attribute.String("decision", string(req.Decision)),
	))
	defer func() { finishSpan(span, err) }()

	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	approverID := strings.TrimSpace(req.ApproverID)
	if approverID == "" {
		approverID = principal.ID
	}
	if approverID != principal.ID {
		return nil, errors.New(errors.ErrCodeForbidden, "decisions can only be recorded by the approver")
	}

	a, err := s.assignments.GetByID(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	if !workflow.HasApprover(a.Approvers, approverID) {
		return nil, errors.NotAnApprover(approverID)
	}
	if !a.Status.AcceptsDecisions() {
		return nil, errors.AssignmentClosed(a.Status.String(), "record a decision")
	}

	d, err := s.ledger.Record(ctx, RecordInput{
		AssignmentID: a.ID,
		DocumentType: a.DocumentType,
		DocumentID:   a.DocumentID,
		ApproverID:   approverID,
		Decision:     req.Decision,
		Comment:      req.Comment,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Decision(a.DocumentType, d.Decision)

	before, after, err := s.settleStatus(ctx, a, func(ctx context.Context, cur *repository.Assignment) (workflow.Status, error) {
		decisions, err := s.ledger.List(ctx, cur.ID)
		if err != nil {
			return "", err
		}
		return workflow.Resolve(cur.Status, cur.ApproverIDs(), currentDecisions(cur, decisions)), nil
	})
	if err != nil {
		return nil, err
	}

	out = &Outcome{Assignment: after, PreviousStatus: before.Status}
	if after.Status != before.Status {
		prev := before.Status
		s.appendHistory(ctx, out, after, &prev, after.Status, principal.ID, req.Comment)
		s.metrics.Transition(after.DocumentType, before.Status, after.Status)
		if after.Status.Resolved() {
			s.propagateStatus(ctx, out, after)
		}
	}

	s.log.Info().
		Str("assignment_id", after.ID).
		Str("approver_id", approverID).
		Str("decision", d.Decision.String()).
		Str("status", after.Status.String()).
		Msg("Approval decision recorded")

	s.emit(EventDecisionRecorded, after, principal.ID, func(e *Event) {
		e.ApproverID = approverID
		e.Decision = d.Decision
	})
	return out, nil
}

// ── Finalize ─────────────────────────────────────────────────────────────────

// Finalize closes an approved assignment for good.
func (s *ApprovalWorkflowService) Finalize(ctx context.Context, assignmentID, comment string) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "Approvals.Service.Finalize", trace.WithAttributes(
		attribute.String("assignment.id", assignmentID),
	))
	defer func() { finishSpan(span, err) }()

	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	before, after, err := s.settleStatus(ctx, a, func(_ context.Context, cur *repository.Assignment) (workflow.Status, error) {
		if cur.Status != workflow.StatusApproved || len(cur.Approvers) == 0 {
			return "", errors.AssignmentClosed(cur.Status.String(), "finalize")
		}
		return workflow.StatusFinalized, nil
	})
	if err != nil {
		return nil, err
	}

	out = &Outcome{Assignment: after, PreviousStatus: before.Status}
	prev := before.Status
	s.appendHistory(ctx, out, after, &prev, after.Status, principal.ID, comment)
	s.metrics.Transition(after.DocumentType, before.Status, after.Status)

	s.log.Info().
		Str("assignment_id", after.ID).
		Str("finalized_by", principal.ID).
		Msg("Approval assignment finalized")

	s.emit(EventAssignmentFinalized, after, principal.ID, nil)
	return out, nil
}

// ── Removal ──────────────────────────────────────────────────────────────────

// RemoveAssignment deletes the assignment and its decisions and returns the
// owning document to draft. The returned outcome holds the assignment as it
// was before removal.
func (s *ApprovalWorkflowService) RemoveAssignment(ctx context.Context, assignmentID string) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "Approvals.Service.RemoveAssignment", trace.WithAttributes(
		attribute.String("assignment.id", assignmentID),
	))
	defer func() { finishSpan(span, err) }()

	principal, err := s.identity.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	err = s.inTransaction(ctx, func(ctx context.Context) error {
		if err := s.ledger.DeleteAll(ctx, a.ID); err != nil {
			return err
		}
		return s.assignments.Delete(ctx, a.ID)
	})
	if err != nil {
		return nil, err
	}

	out = &Outcome{Assignment: a, PreviousStatus: a.Status}
	prev := a.Status
	s.appendHistory(ctx, out, a, &prev, workflow.StatusDraft, principal.ID, "approval removed")
	if a.SourceTable != nil && s.documents != nil {
		if err := s.documents.ResetApproval(ctx, *a.SourceTable, a.DocumentID); err != nil {
			s.sideEffect(out, SideEffectDocumentReset, a.DocumentType, a.DocumentID, err)
		}
	}

	s.log.Info().
		Str("assignment_id", a.ID).
		Str("document_type", a.DocumentType).
		Str("document_id", a.DocumentID).
		Str("previous_status", a.Status.String()).
		Msg("Approval assignment removed")

	removed := a.Clone()
	removed.Status = workflow.StatusDraft
	s.emit(EventAssignmentRemoved, removed, principal.ID, nil)
	return out, nil
}

func (s *ApprovalWorkflowService) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTransaction(ctx, fn)
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetAssignment returns an assignment by id.
func (s *ApprovalWorkflowService) GetAssignment(ctx context.Context, id string) (*repository.Assignment, error) {
	return s.assignments.GetByID(ctx, id)
}

// GetAssignmentForDocument returns the assignment of a document.
func (s *ApprovalWorkflowService) GetAssignmentForDocument(ctx context.Context, documentType, documentID string) (*repository.Assignment, error) {
	if err := validateDocumentRef(documentType, documentID); err != nil {
		return nil, err
	}
	return s.assignments.GetByDocument(ctx, documentType, documentID)
}

// DecisionSheet returns one row per current approver in list order.
// Approvers without a verdict, or whose verdict predates the last reopen,
// show as pending.
func (s *ApprovalWorkflowService) DecisionSheet(ctx context.Context, assignmentID string) ([]DecisionRow, error) {
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.ledger.List(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*repository.Decision, len(decisions))
	for _, d := range decisions {
		latest[d.ApproverID] = d
	}

	rows := make([]DecisionRow, 0, len(a.Approvers))
	for _, ap := range a.Approvers {
		row := DecisionRow{
			ApproverID:   ap.ID,
			ApproverName: ap.DisplayName,
			Decision:     workflow.VerdictPending,
		}
		if d, ok := latest[ap.ID]; ok {
			decidedAt := d.DecidedAt
			row.Comment = d.Comment
			row.DecidedAt = &decidedAt
			if isStale(a, d) {
				row.Stale = true
			} else {
				row.Decision = d.Decision
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// StatusHistory returns a document's status trail, oldest first.
func (s *ApprovalWorkflowService) StatusHistory(ctx context.Context, documentType, documentID string) ([]*repository.StatusHistoryEntry, error) {
	if err := validateDocumentRef(documentType, documentID); err != nil {
		return nil, err
	}
	return s.history.ListByDocument(ctx, documentType, documentID)
}

// PendingForApprover lists open assignments waiting on approverID, or on the
// caller when approverID is empty.
func (s *ApprovalWorkflowService) PendingForApprover(ctx context.Context, approverID string) ([]*repository.Assignment, error) {
	if approverID == "" {
		principal, err := s.identity.CurrentPrincipal(ctx)
		if err != nil {
			return nil, err
		}
		approverID = principal.ID
	}
	return s.assignments.ListPendingForApprover(ctx, approverID)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

type statusPlan func(ctx context.Context, cur *repository.Assignment) (workflow.Status, error)

// settleStatus writes the status plan computes, guarded by the assignment
// version. On a lost race it re-reads and re-plans, up to s.retries times.
// before is the state the final plan saw; after equals before when the plan
// kept the status.
func (s *ApprovalWorkflowService) settleStatus(ctx context.Context, start *repository.Assignment, plan statusPlan) (before, after *repository.Assignment, err error) {
	cur := start
	for attempt := 1; attempt <= s.retries; attempt++ {
		if attempt > 1 {
			if cur, err = s.assignments.GetByID(ctx, start.ID); err != nil {
				return nil, nil, err
			}
		}

		target, err := plan(ctx, cur)
		if err != nil {
			return nil, nil, err
		}
		if target == cur.Status {
			return cur, cur, nil
		}

		updated, err := s.assignments.UpdateStatus(ctx, cur.ID, cur.Version, target)
		if err == nil {
			return cur, updated, nil
		}
		if !errors.HasCode(err, errors.ErrCodeConflict) {
			return nil, nil, err
		}
		s.log.Debug().Str("assignment_id", cur.ID).Int("attempt", attempt).Msg("Status update raced, retrying")
	}
	return nil, nil, errors.Conflict(fmt.Sprintf("assignment %s kept changing; status not updated", start.ID))
}

// currentDecisions drops verdicts recorded before the assignment was last
// reopened.
func currentDecisions(a *repository.Assignment, decisions []*repository.Decision) []workflow.DecisionInput {
	out := make([]workflow.DecisionInput, 0, len(decisions))
	for _, d := range decisions {
		if isStale(a, d) {
			continue
		}
		out = append(out, workflow.DecisionInput{ApproverID: d.ApproverID, Verdict: d.Decision})
	}
	return out
}

func isStale(a *repository.Assignment, d *repository.Decision) bool {
	return a.ReopenedAt != nil && d.DecidedAt.Before(*a.ReopenedAt)
}

// fillDisplayNames gives every approver a display name: the one supplied,
// else one already stored on the assignment, else the profile directory's,
// else the id itself.
func (s *ApprovalWorkflowService) fillDisplayNames(ctx context.Context, approvers, known []workflow.Approver, out *Outcome, docType, docID string) []workflow.Approver {
	named, err := s.resolveNames(ctx, approvers, known)
	if err != nil {
		s.sideEffect(out, SideEffectDisplayNames, docType, docID, err)
	}
	return named
}

func (s *ApprovalWorkflowService) resolveNames(ctx context.Context, approvers, known []workflow.Approver) ([]workflow.Approver, error) {
	stored := make(map[string]string, len(known))
	for _, k := range known {
		if k.DisplayName != "" {
			stored[k.ID] = k.DisplayName
		}
	}

	out := make([]workflow.Approver, len(approvers))
	var missing []string
	for i, ap := range approvers {
		if ap.DisplayName == "" {
			ap.DisplayName = stored[ap.ID]
		}
		if ap.DisplayName == "" {
			missing = append(missing, ap.ID)
		}
		out[i] = ap
	}
	if len(missing) == 0 {
		return out, nil
	}

	var (
		resolved map[string]string
		err      error
	)
	if s.names != nil {
		resolved, err = s.names.DisplayNames(ctx, missing)
	}
	for i := range out {
		if out[i].DisplayName != "" {
			continue
		}
		if name := resolved[out[i].ID]; name != "" {
			out[i].DisplayName = name
		} else {
			out[i].DisplayName = out[i].ID
		}
	}
	return out, err
}

func (s *ApprovalWorkflowService) checkSourceTable(table string) error {
	if !repository.ValidTableName(table) {
		return errors.InvalidInput("source_table", fmt.Sprintf("invalid table name %q", table))
	}
	if s.allowedTables != nil {
		if _, ok := s.allowedTables[table]; !ok {
			return errors.InvalidInput("source_table", fmt.Sprintf("table %q is not allowed", table))
		}
	}
	return nil
}

// propagateStatus mirrors the assignment status onto its source document.
func (s *ApprovalWorkflowService) propagateStatus(ctx context.Context, out *Outcome, a *repository.Assignment) {
	if a.SourceTable == nil || s.documents == nil {
		return
	}
	err := s.checkSourceTable(*a.SourceTable)
	if err == nil {
		err = s.documents.UpdateStatus(ctx, *a.SourceTable, a.DocumentID, a.Status)
	}
	if err != nil {
		s.sideEffect(out, SideEffectDocumentStatus, a.DocumentType, a.DocumentID, err)
	}
}

// appendHistory writes a status history entry and records a side effect on
// failure (never returns error).
func (s *ApprovalWorkflowService) appendHistory(
	ctx context.Context,
	out *Outcome,
	a *repository.Assignment,
	prev *workflow.Status,
	next workflow.Status,
	changedBy, comment string,
) {
	entry := &repository.StatusHistoryEntry{
		AssignmentID: &a.ID,
		DocumentType: a.DocumentType,
		DocumentID:   a.DocumentID,
		NextStatus:   next,
		ChangedBy:    changedBy,
	}
	if prev != nil {
		p := prev.String()
		entry.PreviousStatus = &p
	}
	if c := strings.TrimSpace(comment); c != "" {
		entry.Comment = &c
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.sideEffect(out, SideEffectStatusHistory, a.DocumentType, a.DocumentID, err)
	}
}

func (s *ApprovalWorkflowService) sideEffect(out *Outcome, kind SideEffectKind, docType, docID string, err error) {
	out.SideEffects = append(out.SideEffects, SideEffectError{Kind: kind, Err: err})
	s.metrics.SideEffectFailed(kind)
	s.log.Warn().Err(err).
		Str("side_effect", string(kind)).
		Str("document_type", docType).
		Str("document_id", docID).
		Msg("Secondary write failed")
}

func (s *ApprovalWorkflowService) emit(kind EventKind, a *repository.Assignment, changedBy string, fill func(*Event)) {
	e := Event{
		Kind:         kind,
		AssignmentID: a.ID,
		DocumentID:   a.DocumentID,
		DocumentType: a.DocumentType,
		Status:       a.Status,
		ApproverIDs:  a.ApproverIDs(),
		ChangedBy:    changedBy,
		OccurredAt:   s.now(),
	}
	if fill != nil {
		fill(&e)
	}
	s.events.publish(e)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateDocumentRef(documentType, documentID string) error {
	if strings.TrimSpace(documentType) == "" {
		return errors.InvalidInput("document_type", "document_type is required")
	}
	if strings.TrimSpace(documentID) == "" {
		return errors.InvalidInput("document_id", "document_id is required")
	}
	return nil
}

func differs(want, have *string) bool {
	return want != nil && (have == nil || *want != *have)
}
