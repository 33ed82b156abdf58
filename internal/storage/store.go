package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("object not found")

// UploadOutcome describes an object written to the store.
type UploadOutcome struct {
	URL         string `json:"url"`
	StoragePath string `json:"storagePath"`
	FileName    string `json:"fileName"`
	ByteSize    int64  `json:"byteSize"`
}

// BlobStore abstracts the object storage that receives transcoded images.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Put stores data under folder and returns where it landed.
	Put(ctx context.Context, data []byte, mimeType, folder, fileName string) (*UploadOutcome, error)

	// Delete removes a previously stored object by its storage path.
	Delete(ctx context.Context, storagePath string) error

	// Close releases any resources.
	Close() error
}

// Reader is implemented by stores that can stream objects back, which lets
// the HTTP service serve media for backends without a public URL.
type Reader interface {
	Get(ctx context.Context, storagePath string) (data []byte, contentType string, err error)
}

// AsReader returns the Reader behind store, looking through wrappers.
func AsReader(store BlobStore) (Reader, bool) {
	for store != nil {
		if r, ok := store.(Reader); ok {
			return r, true
		}
		u, ok := store.(interface{ Unwrap() BlobStore })
		if !ok {
			return nil, false
		}
		store = u.Unwrap()
	}
	return nil, false
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendBlob   = "blob"
	BackendS3     = "s3"
)

// Config configures the storage backend.
type Config struct {
	Backend       string        `mapstructure:"backend" json:"backend" validate:"oneof=memory local blob s3"`
	LocalDir      string        `mapstructure:"local_dir" json:"localDir,omitempty"`
	BucketURL     string        `mapstructure:"bucket_url" json:"bucketURL,omitempty"` // mem://, file://, s3://, gs://
	Prefix        string        `mapstructure:"prefix" json:"prefix,omitempty"`
	PublicBaseURL string        `mapstructure:"public_base_url" json:"publicBaseURL,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	S3            S3Config      `mapstructure:"s3" json:"s3"`
}

// S3Config holds settings for the native S3 backend.
// Works with AWS S3, MinIO, R2 and other S3-compatible endpoints.
type S3Config struct {
	Bucket        string        `mapstructure:"bucket" json:"bucket,omitempty"`
	Region        string        `mapstructure:"region" json:"region,omitempty"`
	Endpoint      string        `mapstructure:"endpoint" json:"endpoint,omitempty"`
	AccessKey     string        `mapstructure:"access_key" json:"-"`
	SecretKey     string        `mapstructure:"secret_key" json:"-"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry" json:"presignExpiry,omitempty"`
}

// New creates a storage backend based on configuration. A positive
// cfg.Timeout bounds every Put and Delete.
func New(ctx context.Context, cfg Config) (BlobStore, error) {
	var (
		store BlobStore
		err   error
	)
	switch cfg.Backend {
	case BackendMemory, "":
		store = NewMemoryStore(cfg.Prefix, cfg.PublicBaseURL)
	case BackendLocal:
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local_dir required for local backend")
		}
		store, err = NewLocalStore(cfg.LocalDir, cfg.Prefix, cfg.PublicBaseURL)
	case BackendBlob:
		if cfg.BucketURL == "" {
			return nil, fmt.Errorf("bucket_url required for blob backend")
		}
		store, err = OpenBucketURL(ctx, cfg.BucketURL, cfg.Prefix, cfg.PublicBaseURL)
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3.bucket required for s3 backend")
		}
		store, err = NewS3Store(ctx, cfg.S3, cfg.Prefix, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(store, cfg.Timeout), nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName reduces name to a safe object name component.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		return "file"
	}
	return name
}

// CleanFolder normalizes a caller supplied folder so it can never escape the prefix.
func CleanFolder(folder string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(folder, `\`, "/")), "/")
}

// ObjectKey builds a unique key for fileName under prefix/folder.
func ObjectKey(prefix, folder, fileName string) string {
	return path.Join(prefix, CleanFolder(folder), uuid.NewString()+"_"+SanitizeFileName(fileName))
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
