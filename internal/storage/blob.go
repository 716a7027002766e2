package storage

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore holds revision payloads that are too large to keep inline in the
// revision row. Objects are written before the enclosing document transaction
// commits; an orphan object from a rolled-back write is harmless and is left
// to bucket lifecycle policies.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// MemoryBlobStore is the in-process BlobStore used in tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(ctx context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.blobs[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryBlobStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}
