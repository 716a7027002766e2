package ratelimit

import (
	"context"
	"time"
)

// Route classes. Every endpoint is admitted through exactly one bucket and
// buckets are limited independently, so heavy writers cannot starve readers.
const (
	BucketRead      = "read"
	BucketWrite     = "write"
	BucketExpensive = "expensive"
)

// Bucket is a fixed-window limit for one route class.
type Bucket struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one admission check. RetryAfter and Reset are
// populated on denial so well-behaved callers can back off deterministically.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// Limiter answers "may this identity make this request now". Identity is the
// authenticated subject when present, otherwise the source address; the
// implementation compounds it with the bucket name so anonymous and
// authenticated traffic are isolated. The returned error is only non-nil in
// fail-closed mode; fail-open implementations absorb backend failures and
// allow the request.
type Limiter interface {
	Allow(ctx context.Context, identity, bucket string) (Decision, error)
	Name() string
}

// Buckets holds the per-class limits; unknown bucket names fall back to the
// read class.
type Buckets map[string]Bucket

func (b Buckets) get(name string) Bucket {
	if bk, ok := b[name]; ok && bk.Limit > 0 && bk.Window > 0 {
		return bk
	}
	return b[BucketRead]
}

// DefaultBuckets returns the illustrative production defaults.
func DefaultBuckets() Buckets {
	return Buckets{
		BucketRead:      {Limit: 100, Window: time.Minute},
		BucketWrite:     {Limit: 30, Window: time.Minute},
		BucketExpensive: {Limit: 10, Window: time.Minute},
	}
}
