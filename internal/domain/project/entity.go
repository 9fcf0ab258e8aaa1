package project

import (
	"time"

	"github.com/bryanwahyu/auditflow/internal/domain/analysis"
)

// Project owns the uploaded source. Source bytes live in the artifact store
// and are referenced by SourceRootRef, never duplicated; many Analysis
// records reuse the same ref, which is what makes re-analysis without
// re-upload possible.
type Project struct {
	ID         string              `json:"id"`
	OwnerID    string              `json:"owner_id"`
	SourceKind analysis.SourceKind `json:"source_kind"`

	// SourceRootRef is the object-store prefix holding the source tree.
	SourceRootRef string `json:"source_root_ref"`

	// ContextHandle is the opaque reference the AI service hands back after
	// the one-time source upload. Empty until the first enhancement; written
	// via compare-and-set so concurrent first enhancements race safely.
	ContextHandle string `json:"context_handle,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ValidKind reports whether k is a known source kind.
func ValidKind(k analysis.SourceKind) bool {
	return k == analysis.KindSingleFile || k == analysis.KindBuildProject
}
