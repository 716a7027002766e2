package repository

import (
	"context"
	"time"

	"github.com/procflow/procflow/internal/document"
)

// Repository persists documents and their append-only revision history.
//
// Create and UpdateWithRevision are atomic: the document write and the
// revision insert both land or neither does. UpdateWithRevision performs the
// compare-and-swap on the document's version; a stale expectedVersion yields
// document.ErrVersionMismatch and must leave both collections untouched.
type Repository interface {
	Create(ctx context.Context, doc *document.Document, initial *document.Revision) error
	Get(ctx context.Context, id string) (*document.Document, error)
	ListByProject(ctx context.Context, projectID string) ([]*document.Document, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error)
	UpdateWithRevision(ctx context.Context, id string, expectedVersion int64, patch document.Patch, snap *document.Revision) (*document.Document, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// Version history. ListRevisions pages newest-first; beforeRev 0 starts
	// from the newest. No update or delete surface exists by design.
	ListRevisions(ctx context.Context, documentID string, limit int, beforeRev int64) ([]*document.Revision, error)
	GetRevision(ctx context.Context, documentID string, rev int64) (*document.Revision, error)
}
