package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// ── Decisions ────────────────────────────────────────────────────────────────

// Decisions is the in-memory decision table, keyed by (assignment, approver).
type Decisions struct {
	s *Store
}

func (r *Decisions) Upsert(_ context.Context, d *repository.Decision) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := decisionKey{d.AssignmentID, d.ApproverID}
	row, ok := r.s.decisions[key]
	if !ok {
		row = &repository.Decision{ID: uuid.NewString()}
		r.s.decisions[key] = row
	}
	row.AssignmentID = d.AssignmentID
	row.DocumentType = d.DocumentType
	row.DocumentID = d.DocumentID
	row.ApproverID = d.ApproverID
	row.Decision = d.Decision
	row.Comment = copyString(d.Comment)
	row.DecidedAt = r.s.stamp()

	d.ID = row.ID
	d.DecidedAt = row.DecidedAt
	return nil
}

func (r *Decisions) ListByAssignment(_ context.Context, assignmentID string) ([]*repository.Decision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*repository.Decision
	for key, d := range r.s.decisions {
		if key.assignmentID == assignmentID {
			c := *d
			c.Comment = copyString(d.Comment)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

func (r *Decisions) DeleteByAssignment(_ context.Context, assignmentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for key := range r.s.decisions {
		if key.assignmentID == assignmentID {
			delete(r.s.decisions, key)
		}
	}
	return nil
}

// ── Status history ───────────────────────────────────────────────────────────

// History is the in-memory, append-only status trail.
type History struct {
	s *Store
}

func (r *History) Append(_ context.Context, entry *repository.StatusHistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.ChangedAt = r.s.stamp()
	c := *entry
	r.s.history = append(r.s.history, &c)
	return nil
}

func (r *History) ListByDocument(_ context.Context, documentType, documentID string) ([]*repository.StatusHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*repository.StatusHistoryEntry
	for _, e := range r.s.history {
		if e.DocumentType == documentType && e.DocumentID == documentID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// ── Approval rules ───────────────────────────────────────────────────────────

// Rules is the in-memory approval rule table.
type Rules struct {
	s *Store
}

func (r *Rules) Create(_ context.Context, rule *repository.ApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule.ID = uuid.NewString()
	rule.CreatedAt = r.s.stamp()
	rule.UpdatedAt = rule.CreatedAt
	r.s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (r *Rules) GetByID(_ context.Context, id string) (*repository.ApprovalRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.rules[id]
	if !ok {
		return nil, errors.NotFound("approval_rule", id)
	}
	return cloneRule(rule), nil
}

func (r *Rules) List(_ context.Context, documentType string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*repository.ApprovalRule
	for _, rule := range r.s.rules {
		if documentType != "" && rule.DocumentType != documentType && rule.DocumentType != repository.WildcardDocumentType {
			continue
		}
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RuleName < out[j].RuleName
	})
	return out, nil
}

func (r *Rules) FindMatchingRule(ctx context.Context, documentType string) (*repository.ApprovalRule, error) {
	rules, err := r.List(ctx, documentType, true)
	if err != nil {
		return nil, err
	}
	return repository.FirstMatchingRule(rules, documentType), nil
}

func (r *Rules) Update(_ context.Context, rule *repository.ApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.rules[rule.ID]
	if !ok {
		return errors.NotFound("approval_rule", rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = r.s.stamp()
	r.s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (r *Rules) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rules[id]; !ok {
		return errors.NotFound("approval_rule", id)
	}
	delete(r.s.rules, id)
	return nil
}

// ── Business documents ───────────────────────────────────────────────────────

// Documents stands in for the business-document tables.
type Documents struct {
	s *Store
}

func (r *Documents) UpdateStatus(_ context.Context, table, documentID string, status workflow.Status) error {
	return r.update(table, documentID, func(d *Document) { d.Status = string(status) })
}

func (r *Documents) LinkApproval(_ context.Context, table, documentID, assignmentID string) error {
	return r.update(table, documentID, func(d *Document) { d.ApprovalID = &assignmentID })
}

func (r *Documents) ResetApproval(_ context.Context, table, documentID string) error {
	return r.update(table, documentID, func(d *Document) {
		d.ApprovalID = nil
		d.Status = string(workflow.StatusDraft)
	})
}

func (r *Documents) update(table, documentID string, fn func(*Document)) error {
	if !repository.ValidTableName(table) {
		return errors.InvalidInput("source_table", "invalid table name "+table)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.documents[tableRow{table, documentID}]
	if !ok {
		return errors.NotFound("document", documentID)
	}
	fn(d)
	return nil
}

// ── Profiles ─────────────────────────────────────────────────────────────────

// Profiles is the read-only profile directory.
type Profiles struct {
	s *Store
}

func (r *Profiles) GetByIDs(_ context.Context, ids []string) ([]*repository.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*repository.Profile
	for _, id := range ids {
		if p, ok := r.s.profiles[id]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func cloneRule(rule *repository.ApprovalRule) *repository.ApprovalRule {
	c := *rule
	c.Approvers = append([]workflow.Approver(nil), rule.Approvers...)
	return &c
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
