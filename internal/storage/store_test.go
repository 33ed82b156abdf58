package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("uploads", "https://cdn.example.com/")
	defer store.Close()

	out, err := store.Put(ctx, []byte("webp-bytes"), "image/webp", "gallery", "sunset.webp")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.StoragePath, "uploads/gallery/"))
	assert.True(t, strings.HasSuffix(out.StoragePath, "_sunset.webp"))
	assert.Equal(t, "https://cdn.example.com/"+out.StoragePath, out.URL)
	assert.Equal(t, "sunset.webp", out.FileName)
	assert.Equal(t, int64(10), out.ByteSize)

	data, contentType, err := store.Get(ctx, out.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("webp-bytes"), data)
	assert.Equal(t, "image/webp", contentType)

	require.NoError(t, store.Delete(ctx, out.StoragePath))

	_, _, err = store.Get(ctx, out.StoragePath)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.Delete(ctx, out.StoragePath), ErrNotFound))
}

func TestBucketStoreKeysAreUnique(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("", "")
	defer store.Close()

	a, err := store.Put(ctx, []byte("a"), "image/png", "f", "same.png")
	require.NoError(t, err)
	b, err := store.Put(ctx, []byte("b"), "image/png", "f", "same.png")
	require.NoError(t, err)

	assert.NotEqual(t, a.StoragePath, b.StoragePath)
	assert.True(t, strings.HasPrefix(a.URL, DefaultPublicBaseURL+"/f/"))
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "img", "")
	require.NoError(t, err)
	defer store.Close()

	out, err := store.Put(ctx, []byte{1, 2, 3}, "image/jpeg", "avatars/2024", "me.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.StoragePath, "img/avatars/2024/"))

	data, _, err := store.Get(ctx, out.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"photo.webp":          "photo.webp",
		"my holiday pic.jpg":  "my-holiday-pic.jpg",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\cat.png`: "cat.png",
		"...":                 "file",
		"":                    "file",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, SanitizeFileName(in))
		})
	}
}

func TestCleanFolder(t *testing.T) {
	assert.Equal(t, "gallery", CleanFolder("gallery"))
	assert.Equal(t, "a/b", CleanFolder("/a//b/"))
	assert.Equal(t, "secrets", CleanFolder("../../secrets"))
	assert.Equal(t, "", CleanFolder(""))
}

type slowStore struct {
	BlobStore
	delay time.Duration
}

func (s *slowStore) Put(ctx context.Context, _ []byte, _, _, _ string) (*UploadOutcome, error) {
	select {
	case <-time.After(s.delay):
		return &UploadOutcome{URL: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeoutCancelsSlowPut(t *testing.T) {
	store := WithTimeout(&slowStore{BlobStore: NewMemoryStore("", ""), delay: time.Second}, 20*time.Millisecond)

	_, err := store.Put(context.Background(), []byte("x"), "image/png", "f", "a.png")

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithTimeoutZeroIsPassThrough(t *testing.T) {
	inner := NewMemoryStore("", "")
	assert.Same(t, inner, WithTimeout(inner, 0))
}

func TestAsReaderLooksThroughWrappers(t *testing.T) {
	wrapped := WithTimeout(NewMemoryStore("", ""), time.Minute)

	r, ok := AsReader(wrapped)
	require.True(t, ok)
	_, isBucket := r.(*BucketStore)
	assert.True(t, isBucket)

	_, ok = AsReader(&slowStore{})
	assert.False(t, ok)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	mem, err := New(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &BucketStore{}, mem)

	viaURL, err := New(ctx, Config{Backend: BackendBlob, BucketURL: "mem://", Timeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &timeoutStore{}, viaURL)

	_, err = New(ctx, Config{Backend: BackendLocal})
	assert.Error(t, err)

	_, err = New(ctx, Config{Backend: "ftp"})
	assert.Error(t, err)
}

// fakeS3 is a minimal path-style S3 endpoint backed by a map.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StoreAgainstFakeEndpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := NewS3Store(ctx, S3Config{
		Bucket:    "media",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
	}, "uploads", "")
	require.NoError(t, err)

	out, err := store.Put(ctx, []byte("jpeg-bytes"), "image/jpeg", "covers", "a.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.StoragePath, "uploads/covers/"))
	assert.Contains(t, out.URL, "X-Amz-Signature")

	fake.mu.Lock()
	assert.Equal(t, []byte("jpeg-bytes"), fake.objects["media/"+out.StoragePath])
	assert.Equal(t, "image/jpeg", fake.types["media/"+out.StoragePath])
	fake.mu.Unlock()

	data, contentType, err := store.Get(ctx, out.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, "image/jpeg", contentType)

	require.NoError(t, store.Delete(ctx, out.StoragePath))

	_, _, err = store.Get(ctx, out.StoragePath)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestS3StorePublicBaseURL(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket: "media", Endpoint: srv.URL, AccessKey: "k", SecretKey: "s",
	}, "", "https://img.example.com")
	require.NoError(t, err)

	out, err := store.Put(context.Background(), []byte("x"), "image/webp", "", "x.webp")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/"+out.StoragePath, out.URL)
}
