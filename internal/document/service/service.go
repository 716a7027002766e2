package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/procflow/procflow/internal/authz"
	"github.com/procflow/procflow/internal/cache"
	"github.com/procflow/procflow/internal/document"
	"github.com/procflow/procflow/internal/document/repository"
	"github.com/procflow/procflow/internal/storage"
	"github.com/procflow/procflow/pkg/logger"
	"github.com/procflow/procflow/pkg/metrics"
)

const (
	defaultVersionsPage = 20
	maxVersionsPage     = 100
)

// Options tune write-path policy.
type Options struct {
	// Invalidator receives the cache fan-out after every successful write.
	// Nil disables invalidation (memory-only deployments).
	Invalidator cache.Invalidator
	// Blobs, when set together with a positive BlobThreshold, receives
	// revision payloads larger than the threshold; the revision row then
	// carries only the object key.
	Blobs         storage.BlobStore
	BlobThreshold int
	// SnapshotMetadataWrites stores a full content copy in the revision row
	// of a metadata-only write instead of a thin row flagged unchanged.
	SnapshotMetadataWrites bool
}

// Service is the single gate through which all document writes pass. It
// enforces check-and-increment semantics: a write carries the version the
// caller last saw, and only the writer holding the currently valid version
// succeeds; everyone else gets a ConflictError with the current document.
type Service struct {
	repo    repository.Repository
	checker authz.Checker
	opts    Options
}

func New(repo repository.Repository, checker authz.Checker, opts Options) *Service {
	return &Service{repo: repo, checker: checker, opts: opts}
}

func (s *Service) invalidate(ctx context.Context, docID, projectID, ownerID string) {
	if s.opts.Invalidator == nil {
		return
	}
	if err := s.opts.Invalidator.InvalidateForDocumentWrite(ctx, docID, projectID, ownerID); err != nil {
		logger.Warnf("cache invalidation for document %s failed: %v", docID, err)
	}
}

// offload moves the payload into the blob store when it exceeds the
// threshold. Uploading before the repository transaction means a rollback can
// orphan an object; orphans are inert and left to bucket lifecycle cleanup.
func (s *Service) offload(ctx context.Context, snap *document.Revision, content string) error {
	if s.opts.Blobs != nil && s.opts.BlobThreshold > 0 && len(content) > s.opts.BlobThreshold {
		key := fmt.Sprintf("revisions/%s/%d", snap.DocumentID, snap.Rev)
		if err := s.opts.Blobs.Put(ctx, key, []byte(content)); err != nil {
			return fmt.Errorf("offload revision payload: %w", err)
		}
		snap.BlobKey = key
		return nil
	}
	snap.Content = content
	return nil
}

// Create makes a new document at version 1 and emits its initial revision in
// the same atomic step.
func (s *Service) Create(ctx context.Context, callerID, title, content, projectID string, meta map[string]string) (*document.Document, error) {
	if callerID == "" {
		return nil, fmt.Errorf("%w: caller id required", document.ErrValidation)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title required", document.ErrValidation)
	}
	if err := document.ValidateMeta(meta); err != nil {
		return nil, err
	}

	doc := &document.Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		ProjectID: projectID,
		OwnerID:   callerID,
		Version:   1,
		Meta:      meta,
	}
	initial := &document.Revision{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Rev:        1,
		AuthorID:   callerID,
	}
	if err := s.offload(ctx, initial, content); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, doc, initial); err != nil {
		return nil, err
	}
	metrics.RevisionsAppended.Inc()
	s.invalidate(ctx, doc.ID, doc.ProjectID, doc.OwnerID)
	return doc, nil
}

// Get returns the document when the caller may read it. Soft-deleted
// documents are reported as not found.
func (s *Service) Get(ctx context.Context, callerID, id string) (*document.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: document id required", document.ErrValidation)
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted() {
		return nil, document.ErrNotFound
	}
	if !s.checker.CanRead(ctx, callerID, doc) {
		return nil, document.ErrForbidden
	}
	return doc, nil
}

// Update applies a version-checked write. The document update and the
// revision append are transactionally consistent; cache invalidation happens
// after commit and is best-effort.
func (s *Service) Update(ctx context.Context, id, callerID string, expectedVersion int64, patch document.Patch) (*document.Document, error) {
	if id == "" || callerID == "" {
		return nil, fmt.Errorf("%w: document id and caller id required", document.ErrValidation)
	}
	if expectedVersion < 1 {
		return nil, fmt.Errorf("%w: expectedVersion must be >= 1", document.ErrValidation)
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: patch changes nothing", document.ErrValidation)
	}
	if patch.Meta != nil {
		if err := document.ValidateMeta(patch.Meta); err != nil {
			return nil, err
		}
	}

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Deleted() {
		return nil, document.ErrNotFound
	}
	if !s.checker.CanWrite(ctx, callerID, cur) {
		return nil, document.ErrForbidden
	}
	if cur.Version != expectedVersion {
		metrics.WriteConflicts.Inc()
		return nil, &document.ConflictError{Current: cur}
	}

	contentChanged := patch.Content != nil && *patch.Content != cur.Content
	snap := &document.Revision{
		ID:         uuid.NewString(),
		DocumentID: id,
		Rev:        expectedVersion + 1,
		AuthorID:   callerID,
		Message:    patch.Message,
	}
	switch {
	case contentChanged:
		if err := s.offload(ctx, snap, *patch.Content); err != nil {
			return nil, err
		}
	case s.opts.SnapshotMetadataWrites:
		if err := s.offload(ctx, snap, cur.Content); err != nil {
			return nil, err
		}
	default:
		// metadata-only write: keep the revision sequence contiguous with a
		// thin row instead of duplicating an unchanged payload
		snap.ContentUnchanged = true
	}

	updated, err := s.repo.UpdateWithRevision(ctx, id, expectedVersion, patch, snap)
	if err == document.ErrVersionMismatch {
		// lost the race between our read and the CAS; report the winner
		metrics.WriteConflicts.Inc()
		now, rerr := s.repo.Get(ctx, id)
		if rerr != nil || now.Deleted() {
			return nil, document.ErrNotFound
		}
		return nil, &document.ConflictError{Current: now}
	}
	if err != nil {
		return nil, err
	}
	metrics.RevisionsAppended.Inc()
	s.invalidate(ctx, id, updated.ProjectID, updated.OwnerID)
	return updated, nil
}

// SaveSnapshot is the autosave entry point: persist the coalesced snapshot on
// top of whatever version is current. A writer racing in between is still
// caught by the version check and surfaces as a ConflictError.
func (s *Service) SaveSnapshot(ctx context.Context, id, callerID, content string) (int64, error) {
	cur, err := s.Get(ctx, callerID, id)
	if err != nil {
		return 0, err
	}
	if content == cur.Content {
		return cur.Version, nil
	}
	updated, err := s.Update(ctx, id, callerID, cur.Version, document.Patch{Content: &content, Message: "autosave"})
	if err != nil {
		return 0, err
	}
	return updated.Version, nil
}

// CanReadSummary runs the read access check against a cached summary view
// without touching the repository; the summary carries the owner and project
// fields the checker needs.
func (s *Service) CanReadSummary(ctx context.Context, callerID string, sum *document.Summary) bool {
	if sum == nil {
		return false
	}
	return s.checker.CanRead(ctx, callerID, &document.Document{
		ID:        sum.ID,
		OwnerID:   sum.OwnerID,
		ProjectID: sum.ProjectID,
	})
}

// CanAccessProject exposes the project membership check for cached list views.
func (s *Service) CanAccessProject(ctx context.Context, callerID, projectID string) bool {
	return s.checker.CanAccessProject(ctx, callerID, projectID)
}

// Delete soft-deletes: the row is kept, no further writes are accepted.
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	doc, err := s.Get(ctx, callerID, id)
	if err != nil {
		return err
	}
	if !s.checker.CanWrite(ctx, callerID, doc) {
		return document.ErrForbidden
	}
	if err := s.repo.SoftDelete(ctx, id, time.Now()); err != nil {
		return err
	}
	s.invalidate(ctx, id, doc.ProjectID, doc.OwnerID)
	return nil
}

// ListByProject returns the project's live documents, newest first.
func (s *Service) ListByProject(ctx context.Context, callerID, projectID string) ([]*document.Document, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id required", document.ErrValidation)
	}
	if !s.checker.CanAccessProject(ctx, callerID, projectID) {
		return nil, document.ErrForbidden
	}
	return s.repo.ListByProject(ctx, projectID)
}

// ListByOwner returns the caller's own live documents, newest first.
func (s *Service) ListByOwner(ctx context.Context, callerID string) ([]*document.Document, error) {
	if callerID == "" {
		return nil, fmt.Errorf("%w: caller id required", document.ErrValidation)
	}
	return s.repo.ListByOwner(ctx, callerID)
}

// ListVersions pages the revision history newest-first; beforeRev 0 starts at
// the newest revision.
func (s *Service) ListVersions(ctx context.Context, callerID, id string, limit int, beforeRev int64) ([]*document.Revision, error) {
	if _, err := s.Get(ctx, callerID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultVersionsPage
	}
	if limit > maxVersionsPage {
		limit = maxVersionsPage
	}
	return s.repo.ListRevisions(ctx, id, limit, beforeRev)
}

// GetVersion returns one revision, resolving an offloaded payload from the
// blob store.
func (s *Service) GetVersion(ctx context.Context, callerID, id string, rev int64) (*document.Revision, error) {
	if _, err := s.Get(ctx, callerID, id); err != nil {
		return nil, err
	}
	r, err := s.repo.GetRevision(ctx, id, rev)
	if err != nil {
		return nil, err
	}
	if r.BlobKey != "" && s.opts.Blobs != nil {
		b, err := s.opts.Blobs.Fetch(ctx, r.BlobKey)
		if err != nil {
			return nil, fmt.Errorf("fetch revision payload: %w", err)
		}
		r.Content = string(b)
	}
	return r, nil
}
