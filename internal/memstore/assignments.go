package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// Assignments is the in-memory assignment table.
type Assignments struct {
	s *Store
}

func (r *Assignments) GetOrCreate(_ context.Context, a *repository.Assignment) (*repository.Assignment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := docKey{a.DocumentType, a.DocumentID}
	if id, ok := r.s.byDocument[key]; ok {
		return r.s.assignments[id].Clone(), false, nil
	}

	row := a.Clone()
	row.ID = uuid.NewString()
	row.Version = 1
	row.ReopenedAt = nil
	row.CreatedAt = r.s.stamp()
	row.UpdatedAt = row.CreatedAt
	if row.Approvers == nil {
		row.Approvers = []workflow.Approver{}
	}
	r.s.assignments[row.ID] = row
	r.s.byDocument[key] = row.ID
	return row.Clone(), true, nil
}

func (r *Assignments) GetByID(_ context.Context, id string) (*repository.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assignments[id]
	if !ok {
		return nil, errors.NotFound("approval_assignment", id)
	}
	return a.Clone(), nil
}

func (r *Assignments) GetByDocument(_ context.Context, documentType, documentID string) (*repository.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.byDocument[docKey{documentType, documentID}]
	if !ok {
		return nil, errors.NotFound("approval_assignment", documentType+"/"+documentID)
	}
	return r.s.assignments[id].Clone(), nil
}

func (r *Assignments) UpdateApprovers(_ context.Context, u repository.ApproversUpdate) (*repository.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, err := r.guard(u.ID, u.Version)
	if err != nil {
		return nil, err
	}
	a.Approvers = append([]workflow.Approver{}, u.Approvers...)
	a.Status = u.Status
	now := r.s.stamp()
	if u.Reopen {
		reopened := now
		a.ReopenedAt = &reopened
	}
	r.touch(a, now)
	return a.Clone(), nil
}

func (r *Assignments) UpdateStatus(_ context.Context, id string, version int, status workflow.Status) (*repository.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, err := r.guard(id, version)
	if err != nil {
		return nil, err
	}
	a.Status = status
	r.touch(a, r.s.stamp())
	return a.Clone(), nil
}

func (r *Assignments) UpdateDocumentInfo(_ context.Context, id string, info repository.DocumentInfo) (*repository.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assignments[id]
	if !ok {
		return nil, errors.NotFound("approval_assignment", id)
	}
	if info.Title != nil {
		a.DocumentTitle = info.Title
	}
	if info.Number != nil {
		a.DocumentNumber = info.Number
	}
	if info.URL != nil {
		a.DocumentURL = info.URL
	}
	r.touch(a, r.s.stamp())
	return a.Clone(), nil
}

func (r *Assignments) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assignments[id]
	if !ok {
		return errors.NotFound("approval_assignment", id)
	}
	delete(r.s.assignments, id)
	delete(r.s.byDocument, docKey{a.DocumentType, a.DocumentID})
	return nil
}

func (r *Assignments) ListPendingForApprover(_ context.Context, approverID string) ([]*repository.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*repository.Assignment
	for _, a := range r.s.assignments {
		if !a.Status.AcceptsDecisions() || !workflow.HasApprover(a.Approvers, approverID) {
			continue
		}
		d, ok := r.s.decisions[decisionKey{a.ID, approverID}]
		decided := ok && d.Decision != workflow.VerdictPending &&
			(a.ReopenedAt == nil || !d.DecidedAt.Before(*a.ReopenedAt))
		if !decided {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// guard returns the stored row when it is at version. Callers hold s.mu.
func (r *Assignments) guard(id string, version int) (*repository.Assignment, error) {
	a, ok := r.s.assignments[id]
	if !ok {
		return nil, errors.NotFound("approval_assignment", id)
	}
	if a.Version != version {
		return nil, errors.Conflict(fmt.Sprintf("assignment %s changed since version %d", id, version))
	}
	return a, nil
}

func (r *Assignments) touch(a *repository.Assignment, now time.Time) {
	a.Version++
	a.UpdatedAt = now
}
