package gridbase

import (
	"context"
	"fmt"
)

// BlobBackend is an object store holding one object per sheet.
// Filesystem, S3, MinIO and GCS implementations are provided.
type BlobBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	Close() error
}

// BackendConfig holds configuration for any blob backend
type BackendConfig struct {
	Type            string // "filesystem", "s3", "minio", "gcs"
	Bucket          string // bucket name or base directory
	Region          string // AWS region (s3 only)
	Endpoint        string // MinIO endpoint, host:port
	AccessKeyID     string // MinIO only
	SecretAccessKey string // MinIO only
	UseSSL          bool   // MinIO only
	CredentialsFile string // GCS service account file, optional
	EncryptionKey   []byte // optional AES-256 key, wraps the backend when set
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "bucket/base path is required",
		})
	}

	switch c.Type {
	case "minio":
		if c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"reason": "MinIO backend requires an endpoint",
			})
		}
	case "s3", "gcs", "filesystem":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	if len(c.EncryptionKey) > 0 && len(c.EncryptionKey) != EncryptionKeySize {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "EncryptionKey",
			"reason": fmt.Sprintf("want %d bytes, got %d", EncryptionKeySize, len(c.EncryptionKey)),
		})
	}

	return nil
}

// NewBlobBackend builds the backend described by cfg.
func NewBlobBackend(ctx context.Context, cfg BackendConfig) (BlobBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend BlobBackend
		err     error
	)
	switch cfg.Type {
	case "filesystem":
		backend = NewFilesystemBackend(cfg.Bucket)
	case "s3":
		backend, err = NewS3BackendFromConfig(ctx, cfg.Bucket, cfg.Region)
	case "minio":
		backend, err = NewMinIOBackend(MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
		})
	case "gcs":
		backend, err = NewGCSBackend(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Type, err)
	}

	if len(cfg.EncryptionKey) > 0 {
		return NewEncryptionBackend(backend, cfg.EncryptionKey)
	}
	return backend, nil
}
