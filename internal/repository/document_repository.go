package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ValidTableName reports whether name is a plain or schema-qualified SQL
// identifier.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func quoteTable(name string) (string, error) {
	if !ValidTableName(name) {
		return "", errors.InvalidInput("source_table", fmt.Sprintf("invalid table name %q", name))
	}
	return pgx.Identifier(strings.Split(name, ".")).Sanitize(), nil
}

// DocumentRepository writes back to the business documents that own
// assignments. Each document table has an id, a status column and a nullable
// approval_id column.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// UpdateStatus sets the document's status column.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, table, documentID string, status workflow.Status) error {
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}

	query := `UPDATE ` + ident + ` SET status = $2 WHERE id::text = $1 RETURNING id::text`
	return r.exec(ctx, query, "document", documentID, string(status))
}

// LinkApproval points the document's approval_id at an assignment.
func (r *DocumentRepository) LinkApproval(ctx context.Context, table, documentID, assignmentID string) error {
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}

	query := `UPDATE ` + ident + ` SET approval_id = $2 WHERE id::text = $1 RETURNING id::text`
	return r.exec(ctx, query, "document", documentID, assignmentID)
}

// ResetApproval clears approval_id and returns the document to draft.
func (r *DocumentRepository) ResetApproval(ctx context.Context, table, documentID string) error {
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}

	query := `UPDATE ` + ident + ` SET approval_id = NULL, status = $2 WHERE id::text = $1 RETURNING id::text`
	return r.exec(ctx, query, "document", documentID, string(workflow.StatusDraft))
}

func (r *DocumentRepository) exec(ctx context.Context, query, resource, documentID string, arg any) error {
	var returnedID string
	err := r.db.QueryRow(ctx, query, documentID, arg).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound(resource, documentID)
	}
	if err != nil {
		return errors.Upstream(err, "failed to update document")
	}
	return nil
}
