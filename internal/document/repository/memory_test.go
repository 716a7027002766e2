package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/document"
)

func strptr(s string) *string { return &s }

func seed(t *testing.T, r *MemoryRepo) *document.Document {
	t.Helper()
	doc := &document.Document{ID: "d1", Title: "Draft", Content: "A", ProjectID: "p1", OwnerID: "u1", Version: 1}
	rev := &document.Revision{ID: "r1", DocumentID: "d1", Rev: 1, Content: "A", AuthorID: "u1"}
	require.NoError(t, r.Create(context.Background(), doc, rev))
	return doc
}

func TestMemoryRepo_CreateAndGet(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r)

	got, err := r.Get(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)
	require.Equal(t, "A", got.Content)

	// stored state must not be aliased by the returned copy
	got.Content = "mutated"
	again, err := r.Get(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, "A", again.Content)
}

func TestMemoryRepo_UpdateWithRevision_CAS(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r)
	ctx := context.Background()

	snap := &document.Revision{ID: "r2", DocumentID: "d1", Rev: 2, Content: "B", AuthorID: "u1"}
	updated, err := r.UpdateWithRevision(ctx, "d1", 1, document.Patch{Content: strptr("B")}, snap)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, "B", updated.Content)

	// stale expectedVersion rejected without mutation and without a new row
	stale := &document.Revision{ID: "r3", DocumentID: "d1", Rev: 2, Content: "C", AuthorID: "u2"}
	_, err = r.UpdateWithRevision(ctx, "d1", 1, document.Patch{Content: strptr("C")}, stale)
	require.ErrorIs(t, err, document.ErrVersionMismatch)

	cur, err := r.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "B", cur.Content)
	revs, err := r.ListRevisions(ctx, "d1", 0, 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)
}

func TestMemoryRepo_RevisionContiguity(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r)
	ctx := context.Background()

	// a snapshot numbered past the sequence must be rejected
	gap := &document.Revision{ID: "rX", DocumentID: "d1", Rev: 3, Content: "B", AuthorID: "u1"}
	_, err := r.UpdateWithRevision(ctx, "d1", 1, document.Patch{Content: strptr("B")}, gap)
	require.ErrorIs(t, err, document.ErrRevisionGap)

	revs, err := r.ListRevisions(ctx, "d1", 0, 0)
	require.NoError(t, err)
	require.Len(t, revs, 1)
}

func TestMemoryRepo_ListRevisions_NewestFirstWithCursor(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r)
	ctx := context.Background()

	for i := int64(2); i <= 5; i++ {
		snap := &document.Revision{ID: "r" + string(rune('0'+i)), DocumentID: "d1", Rev: i, Content: "v", AuthorID: "u1"}
		_, err := r.UpdateWithRevision(ctx, "d1", i-1, document.Patch{Content: strptr("v" + string(rune('0'+i)))}, snap)
		require.NoError(t, err)
	}

	page, err := r.ListRevisions(ctx, "d1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(5), page[0].Rev)
	require.Equal(t, int64(4), page[1].Rev)

	next, err := r.ListRevisions(ctx, "d1", 2, page[1].Rev)
	require.NoError(t, err)
	require.Len(t, next, 2)
	require.Equal(t, int64(3), next[0].Rev)
	require.Equal(t, int64(2), next[1].Rev)
}

func TestMemoryRepo_SoftDelete(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r)
	ctx := context.Background()

	require.NoError(t, r.SoftDelete(ctx, "d1", time.Now()))

	// soft-deleted documents accept no further writes
	snap := &document.Revision{ID: "r2", DocumentID: "d1", Rev: 2, Content: "B", AuthorID: "u1"}
	_, err := r.UpdateWithRevision(ctx, "d1", 1, document.Patch{Content: strptr("B")}, snap)
	require.ErrorIs(t, err, document.ErrNotFound)

	// and disappear from listings
	docs, err := r.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, docs)

	require.ErrorIs(t, r.SoftDelete(ctx, "d1", time.Now()), document.ErrNotFound)
}

func TestMemoryRepo_GetRevision(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r)
	ctx := context.Background()

	got, err := r.GetRevision(ctx, "d1", 1)
	require.NoError(t, err)
	require.Equal(t, "A", got.Content)

	_, err = r.GetRevision(ctx, "d1", 9)
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = r.GetRevision(ctx, "nope", 1)
	require.ErrorIs(t, err, document.ErrNotFound)
}
