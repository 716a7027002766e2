package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procflow/procflow/internal/document"
)

// MemoryRepo is an in-memory Repository used for unit tests and for running
// the service without MongoDB. A single mutex makes the document CAS and the
// revision append one atomic step, mirroring the Mongo transaction.
type MemoryRepo struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
	revs map[string][]*document.Revision // documentID -> ascending by Rev
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs: make(map[string]*document.Document),
		revs: make(map[string][]*document.Revision),
	}
}

func (m *MemoryRepo) Create(ctx context.Context, doc *document.Document, initial *document.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return document.ErrRevisionGap
	}
	if initial.Rev != 1 || doc.Version != 1 {
		return document.ErrRevisionGap
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	initial.CreatedAt = now
	m.docs[doc.ID] = doc.Clone()
	snap := *initial
	m.revs[doc.ID] = append(m.revs[doc.ID], &snap)
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryRepo) ListByProject(ctx context.Context, projectID string) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*document.Document{}
	for _, d := range m.docs {
		if d.ProjectID == projectID && !d.Deleted() {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryRepo) ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*document.Document{}
	for _, d := range m.docs {
		if d.OwnerID == ownerID && !d.Deleted() {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryRepo) UpdateWithRevision(ctx context.Context, id string, expectedVersion int64, patch document.Patch, snap *document.Revision) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Deleted() {
		return nil, document.ErrNotFound
	}
	if d.Version != expectedVersion {
		return nil, document.ErrVersionMismatch
	}
	hist := m.revs[id]
	if len(hist) > 0 && hist[len(hist)-1].Rev+1 != snap.Rev {
		return nil, document.ErrRevisionGap
	}
	if snap.Rev != expectedVersion+1 {
		return nil, document.ErrRevisionGap
	}

	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Content != nil {
		d.Content = *patch.Content
	}
	if patch.Meta != nil {
		d.Meta = patch.Meta
	}
	d.Version = expectedVersion + 1
	d.UpdatedAt = time.Now().UTC()
	snap.CreatedAt = d.UpdatedAt
	cp := *snap
	m.revs[id] = append(hist, &cp)
	return d.Clone(), nil
}

func (m *MemoryRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Deleted() {
		return document.ErrNotFound
	}
	t := at.UTC()
	d.DeletedAt = &t
	d.UpdatedAt = t
	return nil
}

func (m *MemoryRepo) ListRevisions(ctx context.Context, documentID string, limit int, beforeRev int64) ([]*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.docs[documentID]; !ok {
		return nil, document.ErrNotFound
	}
	hist := m.revs[documentID]
	out := []*document.Revision{}
	for i := len(hist) - 1; i >= 0; i-- {
		r := hist[i]
		if beforeRev > 0 && r.Rev >= beforeRev {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepo) GetRevision(ctx context.Context, documentID string, rev int64) (*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.docs[documentID]; !ok {
		return nil, document.ErrNotFound
	}
	for _, r := range m.revs[documentID] {
		if r.Rev == rev {
			cp := *r
			return &cp, nil
		}
	}
	return nil, document.ErrNotFound
}
