// Package media stores user-uploaded files in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured means no object storage backend is available.
var ErrNotConfigured = errors.New("object storage not configured")

// Config holds S3-compatible storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// Storage uploads files to a MinIO/S3 bucket.
type Storage struct {
	client *minio.Client
	config Config
}

// NewStorage connects to object storage and ensures the bucket exists.
// Returns (nil, nil) when no endpoint is configured so the app can run
// without avatar uploads.
func NewStorage(ctx context.Context, config Config) (*Storage, error) {
	if config.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", config.Bucket, err)
		}
	}

	return &Storage{client: client, config: config}, nil
}

// allowed avatar content types
var avatarContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// UploadAvatar stores an avatar image for a user and returns its public URL.
func (s *Storage) UploadAvatar(ctx context.Context, userID, contentType string, r io.Reader, size int64) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}

	ext, ok := avatarContentTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("unsupported avatar content type %q", contentType)
	}

	objectName := path.Join("avatars", userID+ext)
	_, err := s.client.PutObject(ctx, s.config.Bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}

	return s.objectURL(objectName), nil
}

// DeleteAvatar removes every stored avatar variant for a user.
func (s *Storage) DeleteAvatar(ctx context.Context, userID string) error {
	if s == nil {
		return ErrNotConfigured
	}
	for _, ext := range avatarContentTypes {
		objectName := path.Join("avatars", userID+ext)
		if err := s.client.RemoveObject(ctx, s.config.Bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove avatar: %w", err)
		}
	}
	return nil
}

func (s *Storage) objectURL(objectName string) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/") + "/" + objectName
	}
	scheme := "http"
	if s.config.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.config.Endpoint, s.config.Bucket, objectName)
}
