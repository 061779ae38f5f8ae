package sched

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// pool bounds parallelism with a weighted semaphore. Each submitted function
// gets its own goroutine which waits for a slot.
type pool struct {
	size    int
	sem     *semaphore.Weighted
	running atomic.Int64
	queued  atomic.Int64
}

func newPool(n int) *pool {
	return &pool{size: n, sem: semaphore.NewWeighted(int64(n))}
}

func (p *pool) submit(ctx context.Context, fn func()) {
	p.queued.Add(1)
	go func() {
		err := p.sem.Acquire(ctx, 1)
		p.queued.Add(-1)
		if err != nil {
			fn()
			return
		}
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.sem.Release(1)
		}()
		fn()
	}()
}

func (p *pool) load() (running, queued int64) {
	return p.running.Load(), p.queued.Load()
}

// serial runs functions one at a time in submission order. A drain goroutine
// exists only while the queue is non-empty.
type serial struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	running  atomic.Int64
}

func (s *serial) submit(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	go s.drain()
}

func (s *serial) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.running.Store(1)
		fn()
		s.running.Store(0)
	}
}

func (s *serial) load() (running, queued int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running.Load(), int64(len(s.queue))
}

type counter struct {
	running atomic.Int64
}

func (c *counter) run(fn func()) {
	c.running.Add(1)
	go func() {
		defer c.running.Add(-1)
		fn()
	}()
}
