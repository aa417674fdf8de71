package async

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingProc struct {
	n      atomic.Int32
	delay  time.Duration
	reqIDs sync.Map
}

func (p *countingProc) ProcessDocument(ctx context.Context, src entity.ObjectInfo) entity.DocumentResult {
	time.Sleep(p.delay)
	p.n.Add(1)
	p.reqIDs.Store(src.Key, common.RequestIDFromContext(ctx))
	return entity.DocumentResult{Key: src.Key, Status: constants.RunStatusOK}
}

func TestQueueDrainsOnShutdown(t *testing.T) {
	proc := &countingProc{delay: 5 * time.Millisecond}
	var mu sync.Mutex
	var keys []string
	q := NewProcessorQueue(proc, discard, WithWorkers(3), WithQueueSize(2), WithResultHandler(func(r entity.DocumentResult) {
		mu.Lock()
		keys = append(keys, r.Key)
		mu.Unlock()
	}))

	ctx := context.Background()
	for _, k := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf"} {
		require.NoError(t, q.Enqueue(ctx, NewJob(entity.ObjectInfo{Key: k})))
	}
	q.Shutdown(ctx)

	assert.Equal(t, int32(5), proc.n.Load())
	assert.Len(t, keys, 5)
	id, _ := proc.reqIDs.Load("a.pdf")
	assert.NotEmpty(t, id)

	assert.ErrorIs(t, q.Enqueue(ctx, NewJob(entity.ObjectInfo{Key: "late.pdf"})), ErrClosed)
	q.Shutdown(ctx) // idempotent
}

func TestEnqueueRespectsContext(t *testing.T) {
	block := make(chan struct{})
	proc := procFunc(func(ctx context.Context, src entity.ObjectInfo) entity.DocumentResult {
		<-block
		return entity.DocumentResult{}
	})
	q := NewProcessorQueue(proc, discard, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(block)
		q.Shutdown(context.Background())
	}()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewJob(entity.ObjectInfo{Key: "1"}))) // taken by the worker
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, NewJob(entity.ObjectInfo{Key: "2"}))) // fills the buffer

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(tctx, NewJob(entity.ObjectInfo{Key: "3"})), context.DeadlineExceeded)
}

type procFunc func(ctx context.Context, src entity.ObjectInfo) entity.DocumentResult

func (f procFunc) ProcessDocument(ctx context.Context, src entity.ObjectInfo) entity.DocumentResult {
	return f(ctx, src)
}
