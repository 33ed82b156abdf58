package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultPresignExpiry = 24 * time.Hour

// S3Store writes images to S3 through the native SDK. Without a public base
// URL it hands out presigned GET URLs.
type S3Store struct {
	client        *s3.Client
	presign       *s3.PresignClient
	bucket        string
	prefix        string
	baseURL       string
	presignExpiry time.Duration
}

// NewS3Client builds an S3 client and its presign client. Static credentials
// are used when both keys are set, otherwise the default AWS chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, *s3.PresignClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return client, s3.NewPresignClient(client), nil
}

// NewS3Store creates a new S3 store.
func NewS3Store(ctx context.Context, cfg S3Config, prefix, publicBaseURL string) (*S3Store, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, presign, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &S3Store{
		client:        client,
		presign:       presign,
		bucket:        cfg.Bucket,
		prefix:        prefix,
		baseURL:       publicBaseURL,
		presignExpiry: expiry,
	}, nil
}

// Put implements BlobStore.
func (s *S3Store) Put(ctx context.Context, data []byte, mimeType, folder, fileName string) (*UploadOutcome, error) {
	key := ObjectKey(s.prefix, folder, fileName)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	url, err := s.objectURL(ctx, key)
	if err != nil {
		return nil, err
	}

	return &UploadOutcome{
		URL:         url,
		StoragePath: key,
		FileName:    SanitizeFileName(fileName),
		ByteSize:    int64(len(data)),
	}, nil
}

func (s *S3Store) objectURL(ctx context.Context, key string) (string, error) {
	if s.baseURL != "" {
		return publicURL(s.baseURL, key), nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete implements BlobStore.
func (s *S3Store) Delete(ctx context.Context, storagePath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", storagePath, err)
	}
	return nil
}

// Get implements Reader.
func (s *S3Store) Get(ctx context.Context, storagePath string) ([]byte, string, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, "", fmt.Errorf("get object %s: %w", storagePath, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", storagePath, err)
	}
	return data, aws.ToString(res.ContentType), nil
}

// Close implements BlobStore. The SDK client holds no resources to release.
func (s *S3Store) Close() error {
	return nil
}
