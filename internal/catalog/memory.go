package catalog

import (
	"context"
	"fmt"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{assets: make(map[string]Asset)}
}

func (s *memoryStore) Save(_ context.Context, asset Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *memoryStore) List(_ context.Context, folder string) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if folder == "" || a.Folder == folder {
			out = append(out, a)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.assets, id)
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
