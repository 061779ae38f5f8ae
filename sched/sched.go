// Package sched maps logical execution contexts onto worker pools.
//
// Main is a single serialized FIFO context, Default and IO are bounded
// parallel pools, and Unconfined starts a fresh goroutine for every function.
// The scheduler keeps no idle goroutines: workers exist only while there is
// something to run.
package sched

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Dispatcher names a logical execution context.
type Dispatcher int

const (
	Default Dispatcher = iota
	Main
	IO
	Unconfined
)

func (d Dispatcher) String() string {
	switch d {
	case Default:
		return "default"
	case Main:
		return "main"
	case IO:
		return "io"
	case Unconfined:
		return "unconfined"
	default:
		return fmt.Sprintf("dispatcher(%d)", int(d))
	}
}

// Dispatchers lists every known dispatcher.
func Dispatchers() []Dispatcher { return []Dispatcher{Default, Main, IO, Unconfined} }

// ParseDispatcher is the inverse of Dispatcher.String.
func ParseDispatcher(s string) (Dispatcher, error) {
	for _, d := range Dispatchers() {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("sched: unknown dispatcher %q", s)
}

// DefaultIOWorkers is the IO pool size used when none is configured.
const DefaultIOWorkers = 64

type Option func(*options)

type options struct {
	defaultWorkers int
	ioWorkers      int
}

// WithDefaultWorkers sizes the Default pool. n <= 0 means GOMAXPROCS.
func WithDefaultWorkers(n int) Option { return func(o *options) { o.defaultWorkers = n } }

// WithIOWorkers sizes the IO pool. n <= 0 means DefaultIOWorkers.
func WithIOWorkers(n int) Option { return func(o *options) { o.ioWorkers = n } }

// Scheduler holds the pool handles behind each Dispatcher.
type Scheduler struct {
	main       *serial
	def        *pool
	io         *pool
	unconfined *counter
}

// New builds a Scheduler.
func New(optFns ...Option) *Scheduler {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}
	if o.defaultWorkers <= 0 {
		o.defaultWorkers = runtime.GOMAXPROCS(0)
	}
	if o.ioWorkers <= 0 {
		o.ioWorkers = DefaultIOWorkers
	}
	return &Scheduler{
		main:       &serial{},
		def:        newPool(o.defaultWorkers),
		io:         newPool(o.ioWorkers),
		unconfined: &counter{},
	}
}

var (
	sharedOnce sync.Once
	shared     *Scheduler
)

// Shared returns the process-wide Scheduler with default sizes.
func Shared() *Scheduler {
	sharedOnce.Do(func() { shared = New() })
	return shared
}

// Dispatch schedules fn on d. If ctx is cancelled while fn is still waiting
// for a worker, fn runs anyway without occupying a slot so that it can
// observe the cancellation and unwind.
func (s *Scheduler) Dispatch(ctx context.Context, d Dispatcher, fn func()) {
	if fn == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	switch d {
	case Main:
		s.main.submit(fn)
	case IO:
		s.io.submit(ctx, fn)
	case Unconfined:
		s.unconfined.run(fn)
	default:
		s.def.submit(ctx, fn)
	}
}

// Stats is a point-in-time view of one dispatcher.
type Stats struct {
	Dispatcher Dispatcher
	Workers    int // 0 means unbounded
	Running    int64
	Queued     int64
}

// Stats returns a snapshot for every dispatcher.
func (s *Scheduler) Stats() []Stats {
	mr, mq := s.main.load()
	dr, dq := s.def.load()
	ir, iq := s.io.load()
	return []Stats{
		{Dispatcher: Default, Workers: s.def.size, Running: dr, Queued: dq},
		{Dispatcher: Main, Workers: 1, Running: mr, Queued: mq},
		{Dispatcher: IO, Workers: s.io.size, Running: ir, Queued: iq},
		{Dispatcher: Unconfined, Running: s.unconfined.running.Load()},
	}
}
