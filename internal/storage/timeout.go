package storage

import (
	"context"
	"time"
)

type timeoutStore struct {
	BlobStore
	timeout time.Duration
}

// WithTimeout bounds every Put and Delete on store by d. A non-positive d
// returns store unchanged.
func WithTimeout(store BlobStore, d time.Duration) BlobStore {
	if d <= 0 {
		return store
	}
	return &timeoutStore{BlobStore: store, timeout: d}
}

func (s *timeoutStore) Put(ctx context.Context, data []byte, mimeType, folder, fileName string) (*UploadOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.BlobStore.Put(ctx, data, mimeType, folder, fileName)
}

func (s *timeoutStore) Delete(ctx context.Context, storagePath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.BlobStore.Delete(ctx, storagePath)
}

// Unwrap returns the wrapped store.
func (s *timeoutStore) Unwrap() BlobStore {
	return s.BlobStore
}
