package mysql

import (
	"context"
	"database/sql"

	domain "github.com/bryanwahyu/auditflow/internal/domain/project"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Save(ctx context.Context, p *domain.Project) error {
	const q = `
INSERT INTO projects (id, owner_id, source_kind, source_root_ref, context_handle, created_at)
VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 owner_id=VALUES(owner_id), source_kind=VALUES(source_kind),
 source_root_ref=VALUES(source_root_ref);
`
	_, err := r.db.ExecContext(ctx, q,
		p.ID, p.OwnerID, p.SourceKind, p.SourceRootRef, p.ContextHandle, p.CreatedAt)
	return err
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*domain.Project, error) {
	const q = `
SELECT id, owner_id, source_kind, source_root_ref, COALESCE(context_handle, ''), created_at
FROM projects WHERE id=? LIMIT 1;`
	var p domain.Project
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.OwnerID, &p.SourceKind, &p.SourceRootRef, &p.ContextHandle, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Project, error) {
	const q = `
SELECT id, owner_id, source_kind, source_root_ref, COALESCE(context_handle, ''), created_at
FROM projects WHERE owner_id=? ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.SourceKind, &p.SourceRootRef, &p.ContextHandle, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CompareAndSetContextHandle performs the first-upload race resolution in
// SQL: the row is only written when the stored handle still equals expect.
func (r *ProjectRepository) CompareAndSetContextHandle(ctx context.Context, id, expect, handle string) (bool, error) {
	const q = `
UPDATE projects
SET context_handle = ?
WHERE id = ? AND COALESCE(context_handle, '') = ?;`
	res, err := r.db.ExecContext(ctx, q, handle, id, expect)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
