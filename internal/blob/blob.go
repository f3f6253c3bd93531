// Package blob is a narrow adapter over an abstract blob namespace. The
// daemon persists module artifacts through it; the backing store is a
// plug-point so a distributed store can replace the local filesystem
// without touching any other component.
//
// The only consistency assumption callers may make: a successfully closed
// write is subsequently listable and readable.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/rvmlabs/rvm/internal/config"
)

// ErrNotFound is returned by Read for a name with no committed blob.
var ErrNotFound = errors.New("blob: not found")

// Entry describes one object in the namespace.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Writer is a streaming blob write. Nothing is visible to List or Read
// until Close returns nil; Abort discards the partial write.
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
	Abort() error
}

// Store is the object-store adapter consumed by the registry.
type Store interface {
	// List returns the entries directly under prefix ("" for the root).
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Read returns the full contents of a committed blob.
	Read(ctx context.Context, name string) ([]byte, error)
	// Writer starts a streaming write of name; Close commits it.
	Writer(ctx context.Context, name string) (Writer, error)
	// Close releases backend resources.
	Close() error
}

// Open constructs the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFsStore(cfg.FsRoot)
	case "s3":
		return NewS3Store(ctx, cfg)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
