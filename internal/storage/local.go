package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

const tempPrefix = ".tmp-"

// Local stores containers as directories under a root.
type Local struct {
	root   string
	logger *slog.Logger
}

func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, wrap(err, "mkdir", abs, "")
	}
	return &Local{root: abs, logger: logger}, nil
}

func (l *Local) dir(container string) (string, error) {
	if container == "" || !filepath.IsLocal(container) || strings.ContainsAny(container, `/\`) {
		return "", wrap(errors.New("invalid container name"), "resolve", container, "")
	}
	return filepath.Join(l.root, container), nil
}

func (l *Local) path(container, key string) (string, error) {
	dir, err := l.dir(container)
	if err != nil {
		return "", err
	}
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", wrap(errors.New("invalid key"), "resolve", container, key)
	}
	return filepath.Join(dir, rel), nil
}

func (l *Local) List(ctx context.Context, container, prefix string) ([]entity.ObjectInfo, error) {
	dir, err := l.dir(container)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, wrap(ErrContainerNotFound, "list", container, prefix)
	}
	var out []entity.ObjectInfo
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, entity.ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, wrap(err, "list", container, prefix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *Local) Get(_ context.Context, container, key string) ([]byte, error) {
	p, err := l.path(container, key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, wrap(ErrObjectNotFound, "get", container, key)
	}
	if err != nil {
		return nil, wrap(err, "get", container, key)
	}
	return b, nil
}

// Put writes to a temp file beside the target and renames it into place so
// readers never observe a partial object.
func (l *Local) Put(_ context.Context, container, key string, data []byte, _ string) (string, error) {
	p, err := l.path(container, key)
	if err != nil {
		return "", err
	}
	dir, _ := l.dir(container)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return "", wrap(ErrContainerNotFound, "put", container, key)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", wrap(err, "put", container, key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), tempPrefix+"*")
	if err != nil {
		return "", wrap(err, "put", container, key)
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("storage.local.temp_cleanup_failed", "path", tmp.Name(), "error", err)
		}
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", wrap(err, "put", container, key)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", wrap(err, "put", container, key)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		cleanup()
		return "", wrap(err, "put", container, key)
	}
	l.logger.Debug("storage.local.put", "container", container, "key", key, "bytes", len(data))
	return "file://" + filepath.ToSlash(p), nil
}

func (l *Local) Delete(_ context.Context, container, key string) error {
	p, err := l.path(container, key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return wrap(ErrObjectNotFound, "delete", container, key)
	}
	if err != nil {
		return wrap(err, "delete", container, key)
	}
	l.logger.Debug("storage.local.delete", "container", container, "key", key)
	return nil
}

func (l *Local) Exists(_ context.Context, container string) (bool, error) {
	dir, err := l.dir(container)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err, "stat", container, "")
	}
	return st.IsDir(), nil
}

func (l *Local) Create(_ context.Context, container string) error {
	dir, err := l.dir(container)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrContainerExists
		}
		return wrap(err, "create", container, "")
	}
	l.logger.Info("storage.local.container_created", "container", container)
	return nil
}
