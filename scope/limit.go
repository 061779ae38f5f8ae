package scope

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many nodes of a scope run their work at once.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

type semLimiter struct {
	sem *semaphore.Weighted
}

func newSemaphoreLimiter(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return &semLimiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *semLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.sem.Acquire(ctx, 1)
}

func (l *semLimiter) Release() { l.sem.Release(1) }
