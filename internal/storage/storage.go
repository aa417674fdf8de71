// Package storage abstracts the object store holding source documents and
// result artifacts. A container is a bucket (GCS) or a directory (local).
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

var (
	ErrContainerExists   = errors.New("container already exists")
	ErrContainerNotFound = errors.New("container not found")
	ErrObjectNotFound    = errors.New("object not found")
)

// Store is the object storage contract used by the pipeline and review service.
type Store interface {
	// List returns objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, container, prefix string) ([]entity.ObjectInfo, error)
	Get(ctx context.Context, container, key string) ([]byte, error)
	// Put writes data and returns a URL for the object. Writes are atomic.
	Put(ctx context.Context, container, key string, data []byte, contentType string) (string, error)
	// Delete removes an object. A missing object is ErrObjectNotFound.
	Delete(ctx context.Context, container, key string) error
	Exists(ctx context.Context, container string) (bool, error)
	// Create returns ErrContainerExists if the container is already present.
	Create(ctx context.Context, container string) error
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocal(cfg.Root, logger)
	case "gcs":
		return NewGCS(ctx, cfg.GCSProjectID, cfg.GCSCredentialsFile, logger)
	case "memory":
		return NewMemory(), nil
	}
	return nil, common.ConfigErrorf("unknown storage backend %q", cfg.Backend)
}

// IsNotFound reports whether err means a missing object or container.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrContainerNotFound)
}

func wrap(err error, op, container, key string) error {
	if err == nil {
		return nil
	}
	return common.StorageError(err, fmt.Sprintf("%s %s/%s", op, container, key))
}
