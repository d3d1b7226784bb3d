package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/duckmesh/duckxfer/internal/storage"
)

const defaultContentType = "application/octet-stream"

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// objectAPI is the subset of *minio.Client the store calls.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Store keeps export files in one bucket, every key under an optional
// prefix.
type Store struct {
	api    objectAPI
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	store, err := newStore(client, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(api objectAPI, bucket, prefix string) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
	}
	return &Store{api: api, bucket: bucket, prefix: prefix}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, attrs storage.Attributes) (storage.Object, error) {
	objectName, err := s.objectName(key)
	if err != nil {
		return storage.Object{}, err
	}
	contentType := attrs.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	info, err := s.api.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: attrs.Metadata,
	})
	if err != nil {
		return storage.Object{}, fmt.Errorf("put %s: %w", s.Location(key), translate(err))
	}
	return storage.Object{
		Key:         key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: contentType,
		Modified:    info.LastModified,
	}, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.Object, error) {
	objectName, err := s.objectName(key)
	if err != nil {
		return storage.Object{}, err
	}
	info, err := s.api.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		err = translate(err)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Object{}, err
		}
		return storage.Object{}, fmt.Errorf("stat %s: %w", s.Location(key), err)
	}
	return storage.Object{
		Key:         key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
		Modified:    info.LastModified,
	}, nil
}

// Delete removes key; a key that is already gone is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectName, err := s.objectName(key)
	if err != nil {
		return err
	}
	err = translate(s.api.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", s.Location(key), err)
	}
	return nil
}

// Location returns the s3:// URL of key, or "" when key is not a valid
// object key.
func (s *Store) Location(key string) string {
	objectName, err := s.objectName(key)
	if err != nil {
		return ""
	}
	return "s3://" + s.bucket + "/" + objectName
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, translate(err))
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// objectName joins the store prefix and key, refusing keys that would
// escape the prefix.
func (s *Store) objectName(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", errors.New("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return path.Join(s.prefix, cleaned), nil
}

// splitEndpoint accepts host:port or a URL; an https URL forces TLS.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	switch parsed.Scheme {
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported s3 endpoint scheme %q", parsed.Scheme)
	}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}
