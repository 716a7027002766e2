package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the narrow key/value surface the read paths depend on. Get returns
// (nil, nil) on a miss. Implementations configured fail-open must absorb
// backend failures: Get degrades to a miss, Set/Del are swallowed with a
// logged warning, and no user-facing request ever fails because the cache is
// down.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPattern(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// Namespace versions the whole key scheme. Bump it when the shape of a cached
// value changes; keys under the old prefix simply expire unread.
const Namespace = "pf1"

// Cache keys are built here and nowhere else, so the invalidation fan-out and
// the read paths can never drift apart.

func KeyDocSummary(docID string) string      { return Namespace + ":doc:" + docID + ":summary" }
func KeyOwnerDocs(ownerID string) string     { return Namespace + ":docs:owner:" + ownerID }
func KeyProjectDocs(projectID string) string { return Namespace + ":docs:project:" + projectID }
func KeyAllDocs() string                     { return Namespace + ":docs:all" }

// Invalidator is what the write path needs: a deterministic fan-out deleting
// every key that is a pure function of one document.
type Invalidator interface {
	InvalidateForDocumentWrite(ctx context.Context, docID, projectID, ownerID string) error
}

// Fanout implements Invalidator over any Cache.
type Fanout struct {
	C Cache
}

func (f Fanout) InvalidateForDocumentWrite(ctx context.Context, docID, projectID, ownerID string) error {
	return f.C.Del(ctx,
		KeyDocSummary(docID),
		KeyOwnerDocs(ownerID),
		KeyProjectDocs(projectID),
		KeyAllDocs(),
	)
}

// ValidatorToken derives the cache-validator token for a document version.
// Equal tokens short-circuit a conditional read to "not modified".
func ValidatorToken(version int64) string {
	return fmt.Sprintf("\"v%d\"", version)
}
