package document

import (
	"fmt"
	"time"
)

// Document is the editable diagram entity. Version starts at 1 on creation and
// is bumped by exactly 1 on every accepted write; all mutations go through the
// service layer's version check.
type Document struct {
	ID        string            `json:"id" bson:"_id"`
	Title     string            `json:"title" bson:"title"`
	Content   string            `json:"content,omitempty" bson:"content"`
	ProjectID string            `json:"projectId" bson:"projectId"`
	OwnerID   string            `json:"ownerId" bson:"ownerId"`
	Version   int64             `json:"version" bson:"version"`
	Meta      map[string]string `json:"meta,omitempty" bson:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt" bson:"updatedAt"`
	DeletedAt *time.Time        `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`
}

// Deleted reports whether the document has been soft-deleted.
func (d *Document) Deleted() bool { return d.DeletedAt != nil }

// Clone returns a deep copy; the in-memory repository hands out copies so
// callers can never alias stored state.
func (d *Document) Clone() *Document {
	c := *d
	if d.Meta != nil {
		c.Meta = make(map[string]string, len(d.Meta))
		for k, v := range d.Meta {
			c.Meta[k] = v
		}
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Summary is the derived read view served by the summary endpoint and cached
// by the cache layer. It carries everything an access check needs.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ProjectID string    `json:"projectId"`
	OwnerID   string    `json:"ownerId"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summarize builds the derived summary view for a document.
func (d *Document) Summarize() *Summary {
	return &Summary{
		ID:        d.ID,
		Title:     d.Title,
		ProjectID: d.ProjectID,
		OwnerID:   d.OwnerID,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}
}

// Revision is an immutable snapshot of a document at one accepted write.
// For a given document, Rev values are contiguous from 1 and the newest Rev
// always equals the document's current Version. Rows are never updated or
// deleted.
type Revision struct {
	ID         string `json:"id" bson:"_id"`
	DocumentID string `json:"documentId" bson:"documentId"`
	Rev        int64  `json:"rev" bson:"rev"`
	Content    string `json:"content,omitempty" bson:"content,omitempty"`
	// BlobKey references the object store when the payload was offloaded.
	BlobKey string `json:"blobKey,omitempty" bson:"blobKey,omitempty"`
	// ContentUnchanged marks a thin row written for a metadata-only change:
	// the payload at this revision is identical to the previous one.
	ContentUnchanged bool      `json:"contentUnchanged,omitempty" bson:"contentUnchanged,omitempty"`
	AuthorID         string    `json:"authorId" bson:"authorId"`
	Message          string    `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
}

// Patch carries only the fields being changed by a write. Nil pointers mean
// "leave untouched"; Meta, when non-nil, replaces the whole meta map.
type Patch struct {
	Title   *string           `json:"title,omitempty"`
	Content *string           `json:"content,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Meta == nil
}

const (
	MaxMetaKeys     = 32
	MaxMetaKeyLen   = 64
	MaxMetaValueLen = 1024
)

// ValidateMeta enforces the bounded-metadata policy: a capped number of keys
// with capped key and value sizes. Unbounded untyped blobs are rejected.
func ValidateMeta(meta map[string]string) error {
	if len(meta) > MaxMetaKeys {
		return fmt.Errorf("%w: meta has %d keys, max %d", ErrValidation, len(meta), MaxMetaKeys)
	}
	for k, v := range meta {
		if k == "" || len(k) > MaxMetaKeyLen {
			return fmt.Errorf("%w: meta key %q exceeds %d bytes", ErrValidation, k, MaxMetaKeyLen)
		}
		if len(v) > MaxMetaValueLen {
			return fmt.Errorf("%w: meta value for %q exceeds %d bytes", ErrValidation, k, MaxMetaValueLen)
		}
	}
	return nil
}
