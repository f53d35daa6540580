package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// AssignmentRepository manages document_approval_assignments. Approver ids and
// names live in two parallel array columns that are always written together
// from one []workflow.Approver.
type AssignmentRepository struct {
	db *database.DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *database.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `
	id, document_type, document_id, status,
	approver_ids, approver_names,
	document_title, document_number, document_url,
	metadata, source_table, version, reopened_at,
	created_by, created_at, updated_at
`

// GetOrCreate returns the assignment for a's document, inserting a when none
// exists. The unique (document_type, document_id) constraint makes concurrent
// callers converge on one row. created reports whether this call inserted it.
func (r *AssignmentRepository) GetOrCreate(ctx context.Context, a *Assignment) (*Assignment, bool, error) {
	insert := `
		INSERT INTO document_approval_assignments
		    (document_type, document_id, status,
		     approver_ids, approver_names,
		     document_title, document_number, document_url,
		     metadata, source_table, created_by)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7, $8,
		        $9, $10, $11)
		ON CONFLICT (document_type, document_id) DO NOTHING
		RETURNING ` + assignmentColumns

	created, err := r.scanAssignment(r.db.QueryRow(ctx, insert,
		a.DocumentType,
		a.DocumentID,
		string(a.Status),
		workflow.ApproverIDs(a.Approvers),
		workflow.ApproverNames(a.Approvers),
		a.DocumentTitle,
		a.DocumentNumber,
		a.DocumentURL,
		nullableJSON(a.Metadata),
		a.SourceTable,
		a.CreatedBy,
	))
	if err == nil {
		return created, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, errors.Upstream(err, "failed to create approval assignment")
	}

	// Lost the race or the row already existed.
	existing, err := r.GetByDocument(ctx, a.DocumentType, a.DocumentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves an assignment by its primary key.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*Assignment, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("approval_assignment", id)
	}
	query := `SELECT ` + assignmentColumns + `
		FROM document_approval_assignments
		WHERE id = $1
	`

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_assignment", id)
	}
	if err != nil {
		return nil, errors.Upstream(err, "failed to get approval assignment")
	}
	return a, nil
}

// GetByDocument retrieves the assignment for a document.
func (r *AssignmentRepository) GetByDocument(ctx context.Context, documentType, documentID string) (*Assignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM document_approval_assignments
		WHERE document_type = $1 AND document_id = $2
	`

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, documentType, documentID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_assignment", documentType+"/"+documentID)
	}
	if err != nil {
		return nil, errors.Upstream(err, "failed to get approval assignment")
	}
	return a, nil
}

// UpdateApprovers writes the approver list and status together, guarded by
// the row version. Returns a conflict error when the version moved.
func (r *AssignmentRepository) UpdateApprovers(ctx context.Context, u ApproversUpdate) (*Assignment, error) {
	if !isUUID(u.ID) {
		return nil, errors.NotFound("approval_assignment", u.ID)
	}
	query := `
		UPDATE document_approval_assignments
		SET approver_ids   = $3,
		    approver_names = $4,
		    status         = $5,
		    reopened_at    = CASE WHEN $6 THEN NOW() ELSE reopened_at END,
		    version        = version + 1,
		    updated_at     = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + assignmentColumns

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query,
		u.ID,
		u.Version,
		workflow.ApproverIDs(u.Approvers),
		workflow.ApproverNames(u.Approvers),
		string(u.Status),
		u.Reopen,
	))
	if err == pgx.ErrNoRows {
		return nil, r.missOrConflict(ctx, u.ID, fmt.Sprintf("assignment %s changed since version %d", u.ID, u.Version))
	}
	if err != nil {
		return nil, errors.Upstream(err, "failed to update approvers")
	}
	return a, nil
}

// UpdateStatus sets the status while the stored version still equals
// version. Returns a conflict error when the row moved on.
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, id string, version int, status workflow.Status) (*Assignment, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("approval_assignment", id)
	}
	query := `
		UPDATE document_approval_assignments
		SET status     = $3,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + assignmentColumns

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, id, version, string(status)))
	if err == pgx.ErrNoRows {
		return nil, r.missOrConflict(ctx, id, fmt.Sprintf("assignment %s changed since version %d", id, version))
	}
	if err != nil {
		return nil, errors.Upstream(err, "failed to update assignment status")
	}
	return a, nil
}

// UpdateDocumentInfo overwrites the display metadata. Nil fields keep their
// stored value.
func (r *AssignmentRepository) UpdateDocumentInfo(ctx context.Context, id string, info DocumentInfo) (*Assignment, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("approval_assignment", id)
	}
	query := `
		UPDATE document_approval_assignments
		SET document_title  = COALESCE($2, document_title),
		    document_number = COALESCE($3, document_number),
		    document_url    = COALESCE($4, document_url),
		    version         = version + 1,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING ` + assignmentColumns

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, id, info.Title, info.Number, info.URL))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_assignment", id)
	}
	if err != nil {
		return nil, errors.Upstream(err, "failed to update document info")
	}
	return a, nil
}

// Delete removes an assignment. Callers remove its decisions first, in the
// same transaction.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return errors.NotFound("approval_assignment", id)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM document_approval_assignments WHERE id = $1`, id)
	if err != nil {
		return errors.Upstream(err, "failed to delete approval assignment")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_assignment", id)
	}
	return nil
}

// ListPendingForApprover returns open assignments where approverID is a
// member and has no current verdict. Verdicts older than reopened_at do not
// count.
func (r *AssignmentRepository) ListPendingForApprover(ctx context.Context, approverID string) ([]*Assignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM document_approval_assignments a
		WHERE a.status IN ('draft', 'in_review')
		  AND $1 = ANY (a.approver_ids)
		  AND NOT EXISTS (
		      SELECT 1 FROM document_approvals d
		      WHERE d.assignment_id = a.id
		        AND d.approver_id = $1
		        AND d.decision <> 'pending'
		        AND (a.reopened_at IS NULL OR d.decided_at >= a.reopened_at)
		  )
		ORDER BY a.updated_at DESC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Upstream(err, "failed to list pending assignments")
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := r.scanAssignment(rows)
		if err != nil {
			return nil, errors.Upstream(err, "failed to scan approval assignment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Upstream(err, "failed to list pending assignments")
	}
	return out, nil
}

// missOrConflict tells a missing row apart from a failed guard.
func (r *AssignmentRepository) missOrConflict(ctx context.Context, id, message string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return errors.Conflict(message)
}

// ── scan helper ───────────────────────────────────────────────────────────────

type assignmentScanner interface {
	Scan(dest ...any) error
}

func (r *AssignmentRepository) scanAssignment(row assignmentScanner) (*Assignment, error) {
	a := &Assignment{}
	var (
		status string
		ids    []string
		names  []string
		meta   []byte
	)
	err := row.Scan(
		&a.ID,
		&a.DocumentType,
		&a.DocumentID,
		&status,
		&ids,
		&names,
		&a.DocumentTitle,
		&a.DocumentNumber,
		&a.DocumentURL,
		&meta,
		&a.SourceTable,
		&a.Version,
		&a.ReopenedAt,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = workflow.Status(status)
	a.Approvers, err = workflow.ApproversFromParallel(ids, names)
	if err != nil {
		return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
	}
	if len(meta) > 0 {
		a.Metadata = meta
	}
	return a, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
