package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

type BucketConfig struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "documents/".
	Prefix string
	// EmulatorHost switches to an unauthenticated fake-gcs endpoint.
	EmulatorHost string
}

// BucketStore keeps raw document bytes in a single GCS bucket.
type BucketStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	prefix string
}

func NewBucketStore(ctx context.Context, cfg BucketConfig, log *logger.Logger) (*BucketStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}

	var opts []option.ClientOption
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog := log.With("service", "BucketStore")
	serviceLog.Info("Object storage initialized", "bucket", bucket, "prefix", cfg.Prefix, "emulator", cfg.EmulatorHost != "")
	return &BucketStore{log: serviceLog, client: client, bucket: bucket, prefix: cfg.Prefix}, nil
}

func (s *BucketStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + strings.TrimLeft(key, "/"))
}

func (s *BucketStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *BucketStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %q: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *BucketStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *BucketStore) Close() error {
	return s.client.Close()
}
