package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds in-flight model calls and, optionally, their start rate.
// One Limiter is shared by every document of a run.
type Limiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

// NewLimiter allows concurrency calls at once and rps call starts per
// second. rps <= 0 disables rate limiting.
func NewLimiter(concurrency int, rps float64) *Limiter {
	if concurrency <= 0 {
		concurrency = 1
	}
	l := &Limiter{sem: semaphore.NewWeighted(int64(concurrency))}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Acquire blocks until a call slot is free. It fails only when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			l.sem.Release(1)
			return err
		}
	}
	return nil
}

func (l *Limiter) Release() { l.sem.Release(1) }
