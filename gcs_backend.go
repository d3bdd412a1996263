package gridbase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend keeps sheet objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

type GCSConfig struct {
	Bucket          string
	CredentialsFile string // service account JSON, Application Default Credentials when empty
}

func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "GCS bucket is required",
		})
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSBackend{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, translateGCSError(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, translateGCSError(err)
	}
	return data, nil
}

// Put uploads the whole sheet in one write. The object only changes once
// the writer closes successfully.
func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	w.ContentType = sheetContentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return translateGCSError(err)
	}
	return translateGCSError(w.Close())
}

func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	return translateGCSError(b.bucket.Object(key).Delete(ctx))
}

func (b *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var keys []string
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, translateGCSError(err)
		}
		keys = append(keys, attrs.Name)
	}
}

func (b *GCSBackend) Ping(ctx context.Context) error {
	if _, err := b.bucket.Attrs(ctx); err != nil {
		return WithContext(translateGCSError(err), map[string]interface{}{"bucket": b.name})
	}
	return nil
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}

// translateGCSError maps storage and HTTP status errors onto the backend
// sentinels. Unknown statuses keep the original error.
func translateGCSError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return ErrNotFound
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{"reason": err.Error()})
	}
	switch {
	case apiErr.Code == http.StatusNotFound:
		return WithContext(ErrNotFound, map[string]interface{}{"cause": apiErr.Message, "status": apiErr.Code})
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return WithContext(ErrUnauthorized, map[string]interface{}{"cause": apiErr.Message, "status": apiErr.Code})
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return WithContext(ErrBackendUnavailable, map[string]interface{}{"cause": apiErr.Message, "status": apiErr.Code})
	}
	return fmt.Errorf("gcs %d: %w", apiErr.Code, err)
}
