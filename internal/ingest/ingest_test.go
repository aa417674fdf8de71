package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type captureQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (q *captureQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) Shutdown(context.Context) {}

func (q *captureQueue) keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Object.Key)
	}
	return out
}

func TestHelpers(t *testing.T) {
	assert.True(t, AllowedExt(".PDF"))
	assert.True(t, AllowedExt("png"))
	assert.False(t, AllowedExt(".txt"))
	assert.True(t, IsHidden("/a/b/.swp"))
	assert.False(t, IsHidden("/a/.b/c.pdf"))
}

func TestInbox_SubmitUploadsAndDedups(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "inv-1.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 test"), 0o644))

	mem := storage.NewMemory()
	require.NoError(t, mem.Create(context.Background(), "input"))
	q := &captureQueue{}
	in := NewInbox(mem, q, "input", "inbox/", discard())

	obj, dup, err := in.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, "inbox/inv-1.pdf", obj.Key)
	assert.Equal(t, "application/pdf", mem.ContentType("input", "inbox/inv-1.pdf"))

	_, dup, err = in.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, []string{"inbox/inv-1.pdf"}, q.keys())

	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 changed"), 0o644))
	_, dup, err = in.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Len(t, q.keys(), 2)
}

func TestInbox_RejectsUnsupported(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("hi"), 0o644))

	in := NewInbox(storage.NewMemory(), &captureQueue{}, "input", "", discard())
	_, _, err := in.Submit(context.Background(), p)
	assert.True(t, common.IsCode(err, common.CodeValidation))
}

func TestWatcher_InitialScanAndEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
		Debounce:    50 * time.Millisecond,
		Logger:      discard(),
	})
	require.NoError(t, err)

	select {
	case p := <-events:
		assert.Equal(t, filepath.Join(dir, "old.pdf"), p)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial scan event")
	}

	fresh := filepath.Join(dir, "new.png")
	require.NoError(t, os.WriteFile(fresh, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("ab"), 0o644))

	select {
	case p := <-events:
		assert.Equal(t, fresh, p)
	case <-time.After(3 * time.Second):
		t.Fatal("no event for new file")
	}

	// the burst collapses into one event
	select {
	case p := <-events:
		t.Fatalf("unexpected second event %q", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	for range events {
	}
}

func TestWatcher_NoRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
