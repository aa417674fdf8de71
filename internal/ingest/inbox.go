// Package ingest moves files from watched local directories into the input
// container and hands them to the extraction queue.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// Inbox uploads files into the input container and enqueues them.
type Inbox struct {
	store     storage.Store
	queue     async.Queue
	container string
	prefix    string
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	seen map[string]string // key -> sha256 of last upload
}

func NewInbox(store storage.Store, queue async.Queue, container, prefix string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		store:     store,
		queue:     queue,
		container: container,
		prefix:    prefix,
		logger:    logger,
		now:       time.Now,
		seen:      map[string]string{},
	}
}

// Submit uploads the file at path and enqueues it. Identical content already
// submitted under the same key is skipped and reported as deduplicated.
func (in *Inbox) Submit(ctx context.Context, path string) (entity.ObjectInfo, bool, error) {
	if !AllowedExt(filepath.Ext(path)) {
		return entity.ObjectInfo{}, false, common.ValidationErrorf("unsupported file type %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return entity.ObjectInfo{}, false, common.WrapError(err, "read inbox file")
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	key := in.prefix + filepath.Base(path)

	in.mu.Lock()
	dup := in.seen[key] == hash
	in.mu.Unlock()
	if dup {
		in.logger.Debug("ingest.inbox.duplicate", "path", path, "key", key)
		return entity.ObjectInfo{Key: key, Size: int64(len(data))}, true, nil
	}

	if _, err := in.store.Put(ctx, in.container, key, data, mimetype.Detect(data).String()); err != nil {
		in.logger.Error("ingest.inbox.upload_failed", "path", path, "key", key, "error", err)
		return entity.ObjectInfo{}, false, err
	}
	obj := entity.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: in.now().UTC()}
	if err := in.queue.Enqueue(ctx, async.NewJob(obj)); err != nil {
		in.logger.Warn("ingest.inbox.enqueue_failed", "key", key, "error", err)
		return obj, false, err
	}

	in.mu.Lock()
	in.seen[key] = hash
	in.mu.Unlock()
	in.logger.Info("ingest.inbox.submitted", "path", path, "key", key, "size", obj.Size, "sha256", hash)
	return obj, false, nil
}

// Run feeds watcher events into Submit until ctx is done or the watcher closes.
func (in *Inbox) Run(ctx context.Context, events <-chan string, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			if _, _, err := in.Submit(ctx, p); err != nil {
				in.logger.Warn("ingest.inbox.skip", "path", p, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			in.logger.Warn("ingest.inbox.watch_error", "error", err)
		}
	}
}
