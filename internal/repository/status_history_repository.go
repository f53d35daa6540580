package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// StatusHistoryRepository appends and reads document_status_history. The
// table is append-only; Append is the only mutation.
type StatusHistoryRepository struct {
	db *database.DB
}

// NewStatusHistoryRepository creates a new StatusHistoryRepository.
func NewStatusHistoryRepository(db *database.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

// Append inserts one history entry.
func (r *StatusHistoryRepository) Append(ctx context.Context, entry *StatusHistoryEntry) error {
	query := `
		INSERT INTO document_status_history
		    (assignment_id, document_type, document_id,
		     previous_status, next_status,
		     changed_by, comment)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7)
		RETURNING id, changed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.AssignmentID,
		entry.DocumentType,
		entry.DocumentID,
		entry.PreviousStatus,
		string(entry.NextStatus),
		entry.ChangedBy,
		entry.Comment,
	).Scan(&entry.ID, &entry.ChangedAt)
	if err != nil {
		return errors.Upstream(err, "failed to append status history")
	}
	return nil
}

// ListByDocument returns a document's full status trail, oldest first. The
// trail outlives assignment removal.
func (r *StatusHistoryRepository) ListByDocument(ctx context.Context, documentType, documentID string) ([]*StatusHistoryEntry, error) {
	query := `
		SELECT id, assignment_id, document_type, document_id,
		       previous_status, next_status,
		       changed_by, comment, changed_at
		FROM document_status_history
		WHERE document_type = $1 AND document_id = $2
		ORDER BY changed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, documentType, documentID)
	if err != nil {
		return nil, errors.Upstream(err, "failed to get status history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *StatusHistoryRepository) scanRows(rows pgx.Rows) ([]*StatusHistoryEntry, error) {
	var entries []*StatusHistoryEntry
	for rows.Next() {
		entry := &StatusHistoryEntry{}
		var next string
		err := rows.Scan(
			&entry.ID,
			&entry.AssignmentID,
			&entry.DocumentType,
			&entry.DocumentID,
			&entry.PreviousStatus,
			&next,
			&entry.ChangedBy,
			&entry.Comment,
			&entry.ChangedAt,
		)
		if err != nil {
			return nil, errors.Upstream(err, "failed to scan status history entry")
		}
		entry.NextStatus = workflow.Status(next)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Upstream(err, "failed to get status history")
	}
	return entries, nil
}
