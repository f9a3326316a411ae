package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryStore keeps blobs in process memory. For tests and small deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), baseURL: baseURL}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
	return s.baseURL + "/" + key, nil
}

func (s *MemoryStore) DownloadURL(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return s.baseURL + "/" + key, nil
}

func (s *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
