// Package storage holds audio payloads outside the tracks table. Tracks
// stored inline keep their bytes in the database row and never reach a
// Backend.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"flowplay/internal/config"

	"github.com/google/uuid"
)

// Object is a stored payload that can be read in ranges.
type Object interface {
	Size() int64
	// ReadRange returns length bytes starting at offset.
	ReadRange(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// Backend stores audio payloads by key.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// New builds the backend selected by cfg. The inline backend has no blob
// store and yields nil.
func New(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendInline, "":
		return nil, nil
	case config.BackendLocal:
		return NewLocal(cfg.LocalPath)
	case config.BackendS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewKey returns a fresh date-partitioned object key. ext is kept so local
// files stay recognizable.
func NewKey(ext string) string {
	d := time.Now().UTC()
	ext = strings.ToLower(path.Ext("x" + ext))
	return fmt.Sprintf("tracks/%d/%02d/%02d/%v%s", d.Year(), d.Month(), d.Day(), uuid.New(), ext)
}

// BytesObject serves an in-memory payload, such as decoded inline audio.
type BytesObject []byte

func (b BytesObject) Size() int64 { return int64(len(b)) }

func (b BytesObject) ReadRange(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(b)) {
		return nil, fmt.Errorf("range %d+%d outside object of size %d", offset, length, len(b))
	}
	return io.NopCloser(bytes.NewReader(b[offset : offset+length])), nil
}
