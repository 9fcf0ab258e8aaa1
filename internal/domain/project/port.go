package project

import "context"

// Repository port for Project records.
type Repository interface {
	Save(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Project, error)

	// CompareAndSetContextHandle sets the context handle only when the stored
	// value still equals expect. Returns false when another writer won the
	// race; the caller then reloads and reuses the stored handle.
	CompareAndSetContextHandle(ctx context.Context, id, expect, handle string) (bool, error)
}
