// Package docstore keeps rendered audit documents, either on the local
// filesystem or in an S3-compatible bucket.
package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

// cleanName rejects names that would escape the store root.
func cleanName(name string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))[1:]
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	return cleaned, nil
}

// =============================================================================
// FILESYSTEM
// =============================================================================

// Filesystem stores documents under a root directory. Paths returned by Put
// are relative to the root.
type Filesystem struct {
	root string
}

func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (s *Filesystem) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	rel, err := cleanName(name)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create document directory: %w", err)
	}

	// Readers never observe a partially written file.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move document into place: %w", err)
	}
	return rel, nil
}

func (s *Filesystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	rel, err := cleanName(p)
	if err != nil {
		return nil, personnel.ErrDocumentNotFound
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, personnel.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return f, nil
}

// =============================================================================
// MINIO
// =============================================================================

// MinIOConfig holds connection settings for an S3-compatible store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIO stores documents as objects in one bucket. Paths are object keys.
type MinIO struct {
	client *minio.Client
	bucket string
}

func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIO) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key, err := cleanName(name)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (s *MinIO) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, personnel.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return object, nil
}

var (
	_ changerequest.DocumentStore = (*Filesystem)(nil)
	_ changerequest.DocumentStore = (*MinIO)(nil)
)
