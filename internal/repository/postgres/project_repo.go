package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ingest-service/internal/models"
)

type ProjectRepo struct{ db *sql.DB }

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// GetByPublicKey returns nil when no active project owns the key.
func (repo *ProjectRepo) GetByPublicKey(ctx context.Context, publicKey string) (*models.Project, error) {
	const query = `
SELECT id, name, public_key, allowed_domain, is_active
FROM projects
WHERE public_key = $1 AND is_active
LIMIT 1`
	var p models.Project
	err := repo.db.QueryRowContext(ctx, query, publicKey).Scan(
		&p.ID, &p.Name, &p.PublicKey, &p.AllowedDomain, &p.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByPublicKey: %w", err)
	}
	return &p, nil
}
