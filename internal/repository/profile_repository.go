package repository

import (
	"context"

	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// ProfileRepository reads the profiles directory. It never writes.
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByIDs returns the profiles that exist among ids. Unknown ids are skipped.
func (r *ProfileRepository) GetByIDs(ctx context.Context, ids []string) ([]*Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id::text, full_name, login
		FROM profiles
		WHERE id::text = ANY ($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, errors.Upstream(err, "failed to load profiles")
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p := &Profile{}
		if err := rows.Scan(&p.ID, &p.FullName, &p.Login); err != nil {
			return nil, errors.Upstream(err, "failed to scan profile")
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Upstream(err, "failed to load profiles")
	}
	return profiles, nil
}
