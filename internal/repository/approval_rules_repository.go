package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// WildcardDocumentType matches every document type.
const WildcardDocumentType = "*"

// ApprovalRulesRepository handles CRUD for document_approval_rules.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

const ruleColumns = `
	id, document_type, rule_name, is_active,
	approvers, priority, created_at, updated_at
`

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	approversJSON, err := json.Marshal(rule.Approvers)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule approvers")
	}

	query := `
		INSERT INTO document_approval_rules
		    (document_type, rule_name, is_active, approvers, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.DocumentType,
		rule.RuleName,
		rule.IsActive,
		approversJSON,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Upstream(err, "failed to create approval rule")
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("approval_rule", id)
	}
	query := `SELECT ` + ruleColumns + ` FROM document_approval_rules WHERE id = $1`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Upstream(err, "failed to get approval rule")
	}
	return rule, nil
}

// List returns rules for a document type (plus wildcard rules), optionally
// filtered to active only. An empty documentType lists every rule.
func (r *ApprovalRulesRepository) List(ctx context.Context, documentType string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM document_approval_rules WHERE TRUE`
	var args []any
	if documentType != "" {
		args = append(args, documentType, WildcardDocumentType)
		query += " AND document_type IN ($1, $2)"
	}
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, rule_name ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Upstream(err, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, errors.Upstream(err, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Upstream(err, "failed to list approval rules")
	}
	return rules, nil
}

// FindMatchingRule returns the first active rule, in priority order, that
// applies to documentType. Returns nil (no error) when no rule matches.
func (r *ApprovalRulesRepository) FindMatchingRule(ctx context.Context, documentType string) (*ApprovalRule, error) {
	rules, err := r.List(ctx, documentType, true)
	if err != nil {
		return nil, err
	}
	return FirstMatchingRule(rules, documentType), nil
}

// FirstMatchingRule picks the first active rule for documentType from rules
// sorted by priority. A rule naming the exact type beats a wildcard rule of
// the same priority.
func FirstMatchingRule(rules []*ApprovalRule, documentType string) *ApprovalRule {
	var wildcard *ApprovalRule
	for _, rule := range rules {
		if !rule.IsActive || len(rule.Approvers) == 0 {
			continue
		}
		if wildcard != nil && rule.Priority > wildcard.Priority {
			return wildcard
		}
		switch rule.DocumentType {
		case documentType:
			return rule
		case WildcardDocumentType:
			if wildcard == nil {
				wildcard = rule
			}
		}
	}
	return wildcard
}

// Update persists changes to an existing rule.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	if !isUUID(rule.ID) {
		return errors.NotFound("approval_rule", rule.ID)
	}
	approversJSON, err := json.Marshal(rule.Approvers)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule approvers")
	}

	query := `
		UPDATE document_approval_rules
		SET document_type = $2,
		    rule_name     = $3,
		    is_active     = $4,
		    approvers     = $5,
		    priority      = $6,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.DocumentType,
		rule.RuleName,
		rule.IsActive,
		approversJSON,
		rule.Priority,
	).Scan(&rule.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", rule.ID)
	}
	if err != nil {
		return errors.Upstream(err, "failed to update approval rule")
	}
	return nil
}

// Delete removes an approval rule. Existing assignments keep their approvers.
func (r *ApprovalRulesRepository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return errors.NotFound("approval_rule", id)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM document_approval_rules WHERE id = $1`, id)
	if err != nil {
		return errors.Upstream(err, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRulesRepository) scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var approversJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.DocumentType,
		&rule.RuleName,
		&rule.IsActive,
		&approversJSON,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(approversJSON) > 0 {
		if err := json.Unmarshal(approversJSON, &rule.Approvers); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule approvers")
		}
	}
	return rule, nil
}
