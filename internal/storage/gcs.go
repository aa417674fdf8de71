package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// GCS maps containers to Google Cloud Storage buckets.
type GCS struct {
	client    *gcs.Client
	projectID string
	logger    *slog.Logger
}

// NewGCS opens a client. An empty credentials path uses application default credentials.
func NewGCS(ctx context.Context, projectID, credentialsFile string, logger *slog.Logger) (*GCS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, common.ConfigErrorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client, projectID: projectID, logger: logger}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

func (g *GCS) List(ctx context.Context, container, prefix string) ([]entity.ObjectInfo, error) {
	it := g.client.Bucket(container).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []entity.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, wrap(ErrContainerNotFound, "list", container, prefix)
		}
		if err != nil {
			return nil, wrap(err, "list", container, prefix)
		}
		out = append(out, entity.ObjectInfo{Key: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated.UTC()})
	}
	return out, nil
}

func (g *GCS) Get(ctx context.Context, container, key string) ([]byte, error) {
	r, err := g.client.Bucket(container).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, wrap(ErrObjectNotFound, "get", container, key)
	}
	if err != nil {
		return nil, wrap(err, "get", container, key)
	}
	defer func() {
		if err := r.Close(); err != nil {
			g.logger.Warn("storage.gcs.reader_close_error", "bucket", container, "key", key, "error", err)
		}
	}()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, wrap(err, "get", container, key)
	}
	return b, nil
}

// Put uploads in one request; GCS only exposes the object once the writer
// closes successfully.
func (g *GCS) Put(ctx context.Context, container, key string, data []byte, contentType string) (string, error) {
	w := g.client.Bucket(container).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", wrap(err, "put", container, key)
	}
	if err := w.Close(); err != nil {
		return "", wrap(err, "put", container, key)
	}
	g.logger.Debug("storage.gcs.put", "bucket", container, "key", key, "bytes", len(data))
	return fmt.Sprintf("gs://%s/%s", container, key), nil
}

func (g *GCS) Delete(ctx context.Context, container, key string) error {
	err := g.client.Bucket(container).Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return wrap(ErrObjectNotFound, "delete", container, key)
	}
	if err != nil {
		return wrap(err, "delete", container, key)
	}
	g.logger.Debug("storage.gcs.delete", "bucket", container, "key", key)
	return nil
}

func (g *GCS) Exists(ctx context.Context, container string) (bool, error) {
	_, err := g.client.Bucket(container).Attrs(ctx)
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err, "stat", container, "")
	}
	return true, nil
}

func (g *GCS) Create(ctx context.Context, container string) error {
	err := g.client.Bucket(container).Create(ctx, g.projectID, nil)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		return ErrContainerExists
	}
	if err != nil {
		return wrap(err, "create", container, "")
	}
	g.logger.Info("storage.gcs.bucket_created", "bucket", container, "project", g.projectID)
	return nil
}
