package sourceinfo

import (
	"context"
	"sync"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
)

var _ Store = (*memoryStore)(nil)

type memoryStore struct {
	mu      sync.RWMutex
	records map[string]cachev1.ContentInfo
}

// NewMemory returns a process-local Store. Records do not survive restarts.
func NewMemory() Store {
	return &memoryStore{
		records: make(map[string]cachev1.ContentInfo),
	}
}

func (r *memoryStore) Get(_ context.Context, url string) (*cachev1.ContentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.records[url]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func (r *memoryStore) Put(_ context.Context, info *cachev1.ContentInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[info.URL] = *info
	return nil
}

func (r *memoryStore) Close() error {
	return nil
}
