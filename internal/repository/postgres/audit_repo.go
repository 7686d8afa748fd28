package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ingest-service/internal/models"
)

type AuditRepo struct{ db *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (repo *AuditRepo) Insert(ctx context.Context, a *models.AuditLog) (int64, error) {
	const query = `
INSERT INTO audit_logs (project_id, action, actor, ip_hash, context, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	var id int64
	if err := repo.db.QueryRowContext(ctx, query,
		a.ProjectID, a.Action, a.Actor, a.IPHash, jsonArg(a.Context), a.CreatedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("Insert: %w", err)
	}
	return id, nil
}
