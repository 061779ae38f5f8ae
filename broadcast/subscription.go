package broadcast

import (
	"context"

	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/scope"
	"github.com/NetPo4ki/go-flowscope/sched"
)

// OnValue handles one delivered value. It runs as its own node and must
// watch tok: a newer value cancels it with ErrSuperseded.
type OnValue[T any] func(tok cancel.Signal, v T) error

// Subscription is one subscriber's view of a Broadcaster. Its mailbox keeps
// only the latest undelivered value, except that a replayed cache value is
// never dropped before it has been taken.
//
// A subscription is drained either with Next or with a single ConsumeLatest
// loop, not both.
type Subscription[T any] struct {
	b      *Broadcaster[T]
	id     uint64
	signal chan struct{}
	gone   chan struct{}

	// guarded by b.mu
	queue    []T
	cached   bool
	left     bool
	consumed bool
}

func newSubscription[T any](b *Broadcaster[T], id uint64) *Subscription[T] {
	return &Subscription[T]{
		b:      b,
		id:     id,
		signal: make(chan struct{}, 1),
		gone:   make(chan struct{}),
		queue:  make([]T, 0, 2),
	}
}

func (s *Subscription[T]) ID() uint64 { return s.id }

// Unsubscribe removes the subscription. It is idempotent.
func (s *Subscription[T]) Unsubscribe() { s.b.unsubscribe(s) }

// Done is closed by Unsubscribe.
func (s *Subscription[T]) Done() <-chan struct{} { return s.gone }

func (s *Subscription[T]) push(v T, cached bool) {
	switch {
	case cached:
		s.queue = append(s.queue[:0], v)
		s.cached = true
	case s.cached:
		s.queue = append(s.queue[:1], v)
	default:
		s.queue = append(s.queue[:0], v)
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// takeLocked pops the oldest queued value and reports whether another one
// is still waiting.
func (s *Subscription[T]) takeLocked() (v T, ok, more bool) {
	if len(s.queue) == 0 {
		return v, false, false
	}
	v = s.queue[0]
	n := copy(s.queue, s.queue[1:])
	clear(s.queue[n:])
	s.queue = s.queue[:n]
	s.cached = false
	return v, true, n > 0
}

func (s *Subscription[T]) take() (v T, ok, more, left bool) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.left {
		return v, false, false, true
	}
	v, ok, more = s.takeLocked()
	return v, ok, more, false
}

func (s *Subscription[T]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available, ctx is done or the subscription
// is removed, in which case it returns ErrUnsubscribed.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	for {
		v, ok, more, left := s.take()
		if left {
			var zero T
			return zero, ErrUnsubscribed
		}
		if ok {
			if more {
				s.wake()
			}
			return v, nil
		}
		select {
		case <-s.signal:
		case <-s.gone:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// ConsumeLatest starts a delivery loop as a node of sc. Each value is handed
// to onValue in a child node; when a newer value arrives while onValue is
// still running, that invocation is cancelled with ErrSuperseded and joined
// before the newer one starts, so deliveries never overlap or reorder. opts
// apply to the onValue nodes.
//
// The loop ends when the subscription is removed or the node is cancelled,
// and the subscription is removed when the loop node settles. A failing
// onValue is handled by sc's policy.
func (s *Subscription[T]) ConsumeLatest(sc *scope.Scope, onValue OnValue[T], opts ...scope.LaunchOption) (*scope.Node, error) {
	if onValue == nil {
		return nil, ErrNilConsumer
	}
	s.b.mu.Lock()
	if s.consumed {
		s.b.mu.Unlock()
		return nil, ErrConsumed
	}
	s.consumed = true
	s.b.mu.Unlock()

	loop, err := sc.Launch(func(n *scope.Node) error {
		return s.consume(n, onValue, opts)
	}, scope.Named("consume latest"), scope.On(sched.Unconfined))
	if err != nil {
		s.Unsubscribe()
		return nil, err
	}
	loop.OnComplete(func(scope.State, error) { s.Unsubscribe() })
	return loop, nil
}

func (s *Subscription[T]) consume(n *scope.Node, onValue OnValue[T], opts []scope.LaunchOption) error {
	var cur *scope.Node
	for {
		select {
		case <-n.Token().Done():
			return n.Token().Err()
		case <-s.gone:
			if cur != nil {
				cur.Cancel(ErrUnsubscribed)
			}
			return nil
		case <-s.signal:
		}

		v, ok, more, left := s.take()
		if left || !ok {
			continue
		}
		if more {
			s.wake()
		}
		if cur != nil {
			if !cur.State().Terminal() {
				cur.Cancel(ErrSuperseded)
				s.b.obs.Superseded(s.b.info)
			}
			_, _ = cur.Join(context.Background())
		}

		next, err := n.Launch(func(c *scope.Node) error {
			return onValue(c.Token(), v)
		}, opts...)
		if err != nil {
			// the loop node itself is being torn down
			return n.Token().Err()
		}
		cur = next
	}
}
