package postgres

import (
	"context"
	"database/sql"

	domain "github.com/bryanwahyu/auditflow/internal/domain/pipelineerrors"
)

type FailureRepository struct {
	db *sql.DB
}

func NewFailureRepository(db *sql.DB) *FailureRepository {
	return &FailureRepository{db: db}
}

func (r *FailureRepository) Save(ctx context.Context, f *domain.Failure) error {
	const q = `
INSERT INTO analysis_failures (analysis_id, step, reason, message, created_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id;`
	return r.db.QueryRowContext(ctx, q, f.AnalysisID, f.Step, f.Reason, f.Message, f.CreatedAt).Scan(&f.ID)
}

func (r *FailureRepository) ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*domain.Failure, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, analysis_id, step, reason, message, created_at
FROM analysis_failures
WHERE analysis_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, analysisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Failure
	for rows.Next() {
		var f domain.Failure
		if err := rows.Scan(&f.ID, &f.AnalysisID, &f.Step, &f.Reason, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
