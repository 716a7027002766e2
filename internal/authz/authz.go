package authz

import (
	"context"

	"github.com/procflow/procflow/internal/document"
)

// Checker answers "can this caller read/write this document". Membership
// itself is owned by the accounts service; this package only consumes it
// through MembershipFunc.
type Checker interface {
	CanRead(ctx context.Context, callerID string, doc *document.Document) bool
	CanWrite(ctx context.Context, callerID string, doc *document.Document) bool
	CanAccessProject(ctx context.Context, callerID, projectID string) bool
}

// MembershipFunc reports whether callerID is a member of projectID.
type MembershipFunc func(ctx context.Context, callerID, projectID string) bool

// OwnerChecker grants the owner full access and defers everything else to the
// injected membership lookup. A nil Members func means owner-only access.
type OwnerChecker struct {
	Members MembershipFunc
}

func NewOwnerChecker(members MembershipFunc) *OwnerChecker {
	return &OwnerChecker{Members: members}
}

func (c *OwnerChecker) CanRead(ctx context.Context, callerID string, doc *document.Document) bool {
	if callerID == "" || doc == nil {
		return false
	}
	if callerID == doc.OwnerID {
		return true
	}
	return c.CanAccessProject(ctx, callerID, doc.ProjectID)
}

func (c *OwnerChecker) CanWrite(ctx context.Context, callerID string, doc *document.Document) bool {
	return c.CanRead(ctx, callerID, doc)
}

func (c *OwnerChecker) CanAccessProject(ctx context.Context, callerID, projectID string) bool {
	if c.Members == nil || callerID == "" || projectID == "" {
		return false
	}
	return c.Members(ctx, callerID, projectID)
}
