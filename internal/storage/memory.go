package storage

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Memory is an in-process Store, used by tests and dry runs.
type Memory struct {
	mu         sync.RWMutex
	containers map[string]map[string]memObject
	now        func() time.Time

	// FailPut, when set, is consulted before every Put.
	FailPut func(container, key string) error
}

func NewMemory() *Memory {
	return &Memory{containers: map[string]map[string]memObject{}, now: time.Now}
}

// SetClock overrides the modification time source.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) List(_ context.Context, container, prefix string) ([]entity.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[container]
	if !ok {
		return nil, wrap(ErrContainerNotFound, "list", container, prefix)
	}
	out := []entity.ObjectInfo{}
	for k, o := range c {
		if strings.HasPrefix(k, prefix) {
			out = append(out, entity.ObjectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Get(_ context.Context, container, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.containers[container][key]
	if !ok {
		return nil, wrap(ErrObjectNotFound, "get", container, key)
	}
	return slices.Clone(o.data), nil
}

// ContentType returns the stored content type of an object.
func (m *Memory) ContentType(container, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.containers[container][key].contentType
}

func (m *Memory) Put(_ context.Context, container, key string, data []byte, contentType string) (string, error) {
	if m.FailPut != nil {
		if err := m.FailPut(container, key); err != nil {
			return "", wrap(err, "put", container, key)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[container]
	if !ok {
		return "", wrap(ErrContainerNotFound, "put", container, key)
	}
	c[key] = memObject{data: slices.Clone(data), contentType: contentType, modified: m.now().UTC()}
	return "mem://" + container + "/" + key, nil
}

func (m *Memory) Delete(_ context.Context, container, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container][key]; !ok {
		return wrap(ErrObjectNotFound, "delete", container, key)
	}
	delete(m.containers[container], key)
	return nil
}

func (m *Memory) Exists(_ context.Context, container string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.containers[container]
	return ok, nil
}

func (m *Memory) Create(_ context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; ok {
		return ErrContainerExists
	}
	m.containers[container] = map[string]memObject{}
	return nil
}
