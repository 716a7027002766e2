package cache

import (
	"context"
	"time"
)

// Noop is the disabled-cache implementation: every read misses, every write
// is discarded. Handlers keep their read-through shape and simply always take
// the repository path.
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (Noop) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return nil
}
func (Noop) Del(ctx context.Context, keys ...string) error       { return nil }
func (Noop) DelPattern(ctx context.Context, prefix string) error { return nil }
func (Noop) Ping(ctx context.Context) error                      { return nil }
func (Noop) Close() error                                        { return nil }
