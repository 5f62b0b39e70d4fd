package media

import (
	"context"
	"io"
	"sync"
)

// MemoryUploader is a dev/test fallback that keeps assets in process memory.
type MemoryUploader struct {
	cfg Config

	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryUploader constructs an empty in-memory Uploader. The zero bucket
// name is replaced so publicURL stays well-formed.
func NewMemoryUploader(cfg Config) *MemoryUploader {
	if cfg.Bucket == "" {
		cfg.Bucket = "vidtube-dev"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if cfg.Region == "" {
		cfg.Region = DefaultConfig().Region
	}
	return &MemoryUploader{cfg: cfg, objects: make(map[string][]byte)}
}

// Upload validates the asset and retains it in memory.
func (u *MemoryUploader) Upload(ctx context.Context, in UploadInput) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	key, err := buildKey(in, u.cfg.MaxUploadBytes)
	if err != nil {
		return Asset{}, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, u.cfg.MaxUploadBytes+1))
	if err != nil {
		return Asset{}, err
	}
	if int64(len(data)) > u.cfg.MaxUploadBytes {
		return Asset{}, ErrTooLarge
	}

	u.mu.Lock()
	u.objects[key] = data
	u.mu.Unlock()

	return Asset{Key: key, URL: u.cfg.publicURL(key)}, nil
}

// Object returns a stored object's bytes, for test assertions.
func (u *MemoryUploader) Object(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[key]
	return data, ok
}
