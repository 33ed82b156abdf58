package storage

import (
	"context"
	"fmt"
	"os"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
	"gocloud.dev/gcerrors"
)

// DefaultPublicBaseURL is where the HTTP service serves objects from
// buckets that have no public endpoint of their own.
const DefaultPublicBaseURL = "/media"

// BucketStore writes images to any gocloud.dev bucket.
type BucketStore struct {
	bucket  *blob.Bucket
	prefix  string
	baseURL string
}

// NewBucketStore wraps an already opened bucket.
func NewBucketStore(bucket *blob.Bucket, prefix, publicBaseURL string) *BucketStore {
	if publicBaseURL == "" {
		publicBaseURL = DefaultPublicBaseURL
	}
	return &BucketStore{bucket: bucket, prefix: prefix, baseURL: publicBaseURL}
}

// OpenBucketURL opens a bucket from a gocloud.dev URL such as
// mem://, file:///var/uploads, s3://bucket?region=eu-west-1 or gs://bucket.
func OpenBucketURL(ctx context.Context, bucketURL, prefix, publicBaseURL string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBucketStore(bucket, prefix, publicBaseURL), nil
}

// NewMemoryStore returns an in-process bucket. Objects vanish with the process.
func NewMemoryStore(prefix, publicBaseURL string) *BucketStore {
	return NewBucketStore(memblob.OpenBucket(nil), prefix, publicBaseURL)
}

// NewLocalStore stores objects below dir on the local filesystem.
func NewLocalStore(dir, prefix, publicBaseURL string) (*BucketStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", dir, err)
	}
	return NewBucketStore(bucket, prefix, publicBaseURL), nil
}

// Put implements BlobStore.
func (s *BucketStore) Put(ctx context.Context, data []byte, mimeType, folder, fileName string) (*UploadOutcome, error) {
	key := ObjectKey(s.prefix, folder, fileName)

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", key, err)
	}

	return &UploadOutcome{
		URL:         publicURL(s.baseURL, key),
		StoragePath: key,
		FileName:    SanitizeFileName(fileName),
		ByteSize:    int64(len(data)),
	}, nil
}

// Delete implements BlobStore.
func (s *BucketStore) Delete(ctx context.Context, storagePath string) error {
	if err := s.bucket.Delete(ctx, storagePath); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return fmt.Errorf("delete %s: %w", storagePath, err)
	}
	return nil
}

// Get implements Reader.
func (s *BucketStore) Get(ctx context.Context, storagePath string) ([]byte, string, error) {
	attrs, err := s.bucket.Attributes(ctx, storagePath)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, "", fmt.Errorf("stat %s: %w", storagePath, err)
	}
	data, err := s.bucket.ReadAll(ctx, storagePath)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", storagePath, err)
	}
	return data, attrs.ContentType, nil
}

// Close releases the bucket connection.
func (s *BucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
