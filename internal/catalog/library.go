package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"image-uploader-go/internal/batch"
	"image-uploader-go/internal/logger"
	"image-uploader-go/internal/statistics"
	"image-uploader-go/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Library combines the catalog with the blob store holding the bytes.
type Library struct {
	store  Store
	blobs  storage.BlobStore
	logger logrus.FieldLogger
	stats  *statistics.Statistics
	now    func() time.Time
}

// NewLibrary creates a Library. stats may be nil.
func NewLibrary(store Store, blobs storage.BlobStore, log logrus.FieldLogger, stats *statistics.Statistics) *Library {
	if log == nil {
		log = logger.Discard()
	}
	return &Library{store: store, blobs: blobs, logger: log, stats: stats, now: time.Now}
}

// Record catalogs a completed batch item. Items that did not complete are ignored.
func (l *Library) Record(ctx context.Context, folder string, item batch.Item) error {
	if item.State != batch.StateCompleted || item.Upload == nil {
		return nil
	}
	a := Asset{
		ID:           uuid.NewString(),
		Folder:       storage.CleanFolder(folder),
		FileName:     item.Upload.FileName,
		OriginalName: item.FileName,
		StoragePath:  item.Upload.StoragePath,
		URL:          item.Upload.URL,
		ByteSize:     item.Upload.ByteSize,
		CreatedAt:    l.now().UTC(),
	}
	if t := item.Transcode; t != nil {
		a.OriginalBytes = int64(t.InputBytes)
		a.Width, a.Height = t.Width, t.Height
		a.Quality = t.Quality
		if t.File != nil {
			a.MimeType = t.File.MimeType
		}
	}
	if err := l.store.Save(ctx, a); err != nil {
		return fmt.Errorf("save asset %s: %w", a.StoragePath, err)
	}
	logger.WithFileOperation(l.logger, a.FileName, "catalog").WithField("asset", a.ID).Debug("asset recorded")
	return nil
}

// List returns the assets in folder, newest first.
func (l *Library) List(ctx context.Context, folder string) ([]Asset, error) {
	if folder != "" {
		folder = storage.CleanFolder(folder)
	}
	return l.store.List(ctx, folder)
}

// Get returns one asset.
func (l *Library) Get(ctx context.Context, id string) (Asset, error) {
	return l.store.Get(ctx, id)
}

// Delete removes the stored object and then its catalog entry. An object
// that is already gone does not block removal of the entry.
func (l *Library) Delete(ctx context.Context, id string) error {
	a, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}

	log := logger.WithFileOperation(l.logger, a.FileName, "delete").WithField("asset", a.ID)
	if err := l.blobs.Delete(ctx, a.StoragePath); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete object %s: %w", a.StoragePath, err)
		}
		log.Warn("stored object already missing")
	}

	if err := l.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove asset %s: %w", id, err)
	}
	if l.stats != nil {
		l.stats.IncrementAssetsDeleted()
	}
	log.Info("asset deleted")
	return nil
}
