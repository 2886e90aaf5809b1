// Package storage keeps source images and saved annotations in a MinIO/S3 bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AnnotationPrefix is the key prefix saved snapshots are written under
const AnnotationPrefix = "annotations/"

var ErrNotFound = errors.New("object not found")

type Config struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

// Store reads images from and writes annotations to one default bucket.
// Objects in other buckets can still be read through s3:// URLs.
type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Store{client: client, bucket: bucket, region: region}, nil
}

// Bucket returns the default bucket name
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// GetObject reads a whole object. An empty bucket means the default one.
func (s *Store) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if bucket == "" {
		bucket = s.bucket
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, fmt.Errorf("object key is required")
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err)
	}
	return data, nil
}

// GetURL reads the object behind an s3://bucket/key URL
func (s *Store) GetURL(ctx context.Context, raw string) ([]byte, error) {
	bucket, key, err := ParseS3URL(raw)
	if err != nil {
		return nil, err
	}
	return s.GetObject(ctx, bucket, key)
}

// ListImages lists image keys under prefix in the default bucket, sorted
func (s *Store) ListImages(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if IsImageKey(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// PutAnnotations stores a saved snapshot as JSON and returns its key
func (s *Store) PutAnnotations(ctx context.Context, image string, payload []byte) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	key := AnnotationKey(image)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// GetAnnotations returns the last saved snapshot for image
func (s *Store) GetAnnotations(ctx context.Context, image string) ([]byte, error) {
	return s.GetObject(ctx, s.bucket, AnnotationKey(image))
}

// PresignImage returns a time-limited http URL a browser surface can load directly
func (s *Store) PresignImage(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("store is nil")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", translate(err)
	}
	return u.String(), nil
}

func translate(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

// AnnotationKey maps an image reference to the key of its saved annotations.
// Only the base name without extension is kept.
func AnnotationKey(image string) string {
	if _, key, err := ParseS3URL(image); err == nil {
		image = key
	}
	base := path.Base(strings.TrimSpace(image))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "untitled"
	}
	return AnnotationPrefix + base + ".json"
}

// ParseS3URL splits s3://bucket/key
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid s3 url %q: scheme must be s3", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url %q: bucket and key are required", raw)
	}
	return u.Host, key, nil
}

// IsImageKey reports whether key has an image extension
func IsImageKey(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
