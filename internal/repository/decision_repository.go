package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// DecisionRepository stores approver verdicts in document_approvals, one row
// per (assignment_id, approver_id).
type DecisionRepository struct {
	db *database.DB
}

// NewDecisionRepository creates a new DecisionRepository.
func NewDecisionRepository(db *database.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Upsert inserts or replaces the approver's decision and stamps decided_at.
// d.ID and d.DecidedAt are filled from the stored row.
func (r *DecisionRepository) Upsert(ctx context.Context, d *Decision) error {
	query := `
		INSERT INTO document_approvals
		    (assignment_id, document_type, document_id,
		     approver_id, decision, comment, decided_at)
		VALUES ($1, $2, $3,
		        $4, $5, $6, NOW())
		ON CONFLICT (assignment_id, approver_id) DO UPDATE
		SET decision   = EXCLUDED.decision,
		    comment    = EXCLUDED.comment,
		    decided_at = EXCLUDED.decided_at
		RETURNING id, decided_at
	`

	err := r.db.QueryRow(ctx, query,
		d.AssignmentID,
		d.DocumentType,
		d.DocumentID,
		d.ApproverID,
		string(d.Decision),
		d.Comment,
	).Scan(&d.ID, &d.DecidedAt)
	if err != nil {
		return errors.Upstream(err, "failed to record decision")
	}
	return nil
}

// ListByAssignment returns every decision on an assignment, oldest first.
func (r *DecisionRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]*Decision, error) {
	if !isUUID(assignmentID) {
		return nil, nil
	}
	query := `
		SELECT id, assignment_id, document_type, document_id,
		       approver_id, decision, comment, decided_at
		FROM document_approvals
		WHERE assignment_id = $1
		ORDER BY decided_at ASC
	`

	rows, err := r.db.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, errors.Upstream(err, "failed to list decisions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// DeleteByAssignment removes all decisions of an assignment.
func (r *DecisionRepository) DeleteByAssignment(ctx context.Context, assignmentID string) error {
	if !isUUID(assignmentID) {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM document_approvals WHERE assignment_id = $1`, assignmentID)
	if err != nil {
		return errors.Upstream(err, "failed to delete decisions")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *DecisionRepository) scanRows(rows pgx.Rows) ([]*Decision, error) {
	var decisions []*Decision
	for rows.Next() {
		d := &Decision{}
		var verdict string
		err := rows.Scan(
			&d.ID,
			&d.AssignmentID,
			&d.DocumentType,
			&d.DocumentID,
			&d.ApproverID,
			&verdict,
			&d.Comment,
			&d.DecidedAt,
		)
		if err != nil {
			return nil, errors.Upstream(err, "failed to scan decision")
		}
		d.Decision = workflow.Verdict(verdict)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Upstream(err, "failed to list decisions")
	}
	return decisions, nil
}
