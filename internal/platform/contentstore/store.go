package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/neurobridge-rag/internal/platform/gcp"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// Store holds the raw bytes of uploaded documents, addressed by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var ErrNotFound = errors.New("content not found")

// KeyFor derives the storage key from the content hash so identical uploads share one object.
func KeyFor(contentHash, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return "documents/" + contentHash + ext
}

type Mode string

const (
	ModeLocal       Mode = "local"
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
)

type Config struct {
	Mode         Mode
	Dir          string
	Bucket       string
	EmulatorHost string
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
		if strings.TrimSpace(c.Dir) == "" {
			return fmt.Errorf("CONTENT_STORE_DIR is required for mode %q", c.Mode)
		}
	case ModeGCS:
		if strings.TrimSpace(c.Bucket) == "" {
			return fmt.Errorf("GCS_BUCKET_NAME is required for mode %q", c.Mode)
		}
	case ModeGCSEmulator:
		if strings.TrimSpace(c.Bucket) == "" || strings.TrimSpace(c.EmulatorHost) == "" {
			return fmt.Errorf("GCS_BUCKET_NAME and STORAGE_EMULATOR_HOST are required for mode %q", c.Mode)
		}
	default:
		return fmt.Errorf("invalid CONTENT_STORE_MODE=%q (allowed: %q, %q, %q)", c.Mode, ModeLocal, ModeGCS, ModeGCSEmulator)
	}
	return nil
}

// New opens the store selected by cfg.Mode.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeGCS, ModeGCSEmulator:
		bcfg := gcp.BucketConfig{Bucket: cfg.Bucket}
		if cfg.Mode == ModeGCSEmulator {
			bcfg.EmulatorHost = cfg.EmulatorHost
		}
		bs, err := gcp.NewBucketStore(ctx, bcfg, log)
		if err != nil {
			return nil, err
		}
		return bs, nil
	default:
		ls, err := NewLocalStore(cfg.Dir, log)
		if err != nil {
			return nil, err
		}
		return ls, nil
	}
}

// LocalStore writes objects under a root directory.
type LocalStore struct {
	root string
	log  *logger.Logger
}

func NewLocalStore(root string, log *logger.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &LocalStore{root: abs, log: log.With("service", "LocalContentStore")}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty key")
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes to a temp file and renames it into place.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return b, err
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
