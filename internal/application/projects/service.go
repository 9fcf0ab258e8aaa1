package projects

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/auditflow/internal/domain/analysis"
	domain "github.com/bryanwahyu/auditflow/internal/domain/project"
)

// Clock abstraction so timestamps are easy to test
type Clock interface {
	Now() time.Time
}

// Service implements the Project use-cases: registering an uploaded source
// root and reading projects back. The upload surface that writes the source
// bytes into the artifact store sits outside this core; here a project is a
// record pointing at a source root that already exists.
type Service struct {
	Repo     domain.Repository
	Analyses analysis.Repository
	Clock    Clock
}

// RegisterCommand describes a source root already present in the artifact
// store.
type RegisterCommand struct {
	OwnerID       string
	SourceKind    analysis.SourceKind
	SourceRootRef string
}

// Register creates the Project record. Immutable afterwards except for the
// AI context handle, which the pipeline sets via compare-and-set.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*domain.Project, error) {
	if !domain.ValidKind(cmd.SourceKind) {
		return nil, analysis.Errorf(analysis.ErrInvalidConfig, "unknown source kind %q", cmd.SourceKind)
	}
	if cmd.SourceRootRef == "" {
		return nil, analysis.Errorf(analysis.ErrInvalidConfig, "source_root_ref is required")
	}
	p := &domain.Project{
		ID:            uuid.New().String(),
		OwnerID:       cmd.OwnerID,
		SourceKind:    cmd.SourceKind,
		SourceRootRef: cmd.SourceRootRef,
		CreatedAt:     s.Clock.Now(),
	}
	if err := s.Repo.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get loads one project by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Project, error) {
	p, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, analysis.Errorf(analysis.ErrNotFound, "project %s", id)
	}
	return p, nil
}

// ListByOwner lists an owner's projects.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Project, error) {
	return s.Repo.ListByOwner(ctx, ownerID)
}

// Summary aggregates severity counts over the current findings of every
// analysis of a project.
func (s *Service) Summary(ctx context.Context, projectID string) (analysis.Summary, error) {
	list, err := s.Analyses.ListByProject(ctx, projectID)
	if err != nil {
		return analysis.Summary{}, err
	}
	var sum analysis.Summary
	for _, a := range list {
		if a.CurrentFindings == nil {
			continue
		}
		sum.Total += a.CurrentFindings.Summary.Total
		sum.High += a.CurrentFindings.Summary.High
		sum.Medium += a.CurrentFindings.Summary.Medium
		sum.Low += a.CurrentFindings.Summary.Low
		sum.Informational += a.CurrentFindings.Summary.Informational
	}
	return sum, nil
}
