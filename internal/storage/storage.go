package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/metrics"
)

// ErrObjectNotFound is returned when the requested key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is the subset of object metadata the services need
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Storage provides object storage operations
type Storage struct {
	client     *minio.Client
	bucketName string
}

// New creates a new storage client and makes sure the bucket exists
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return NewWithClient(client, cfg.BucketName), nil
}

// NewClient builds the minio client for cfg without touching the network
func NewClient(cfg config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *minio.Client, bucketName string) *Storage {
	return &Storage{client: client, bucketName: bucketName}
}

// Bucket returns the bucket name
func (s *Storage) Bucket() string {
	return s.bucketName
}

func record(op string, start time.Time, err error) {
	metrics.RecordStorageOperation(op, metrics.Status(err), time.Since(start).Seconds())
}

// PresignPut returns a URL the client can PUT the object to until expiry
func (s *Storage) PresignPut(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	start := time.Now()
	u, err := s.client.PresignedPutObject(ctx, s.bucketName, objectName, expiry)
	record("presign_put", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}

	return u.String(), nil
}

// GetURL returns a presigned GET URL for playback
func (s *Storage) GetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	start := time.Now()
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, expiry, url.Values{})
	record("presign_get", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return u.String(), nil
}

// Stat returns metadata of an uploaded object
func (s *Storage) Stat(ctx context.Context, objectName string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{})
	record("stat", start, err)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	record("delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// ContentType returns the content type based on file extension
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}

// IsVideo reports whether contentType names a video format. Parameters
// such as codecs are ignored.
func IsVideo(contentType string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	return strings.HasPrefix(strings.ToLower(mediaType), "video/")
}
