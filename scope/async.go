package scope

import (
	"context"

	"github.com/NetPo4ki/go-flowscope/sched"
)

// Launcher is implemented by Scope and Node: Async on a Scope starts a
// top-level node, on a Node a child.
type Launcher interface {
	Launch(work Work, opts ...LaunchOption) (*Node, error)
}

// Deferred is the pending result of a computation started with Async.
type Deferred[T any] struct {
	node *Node
	val  T
	err  error
}

// Async starts fn as a node of l and returns a handle to its result. A
// failure of fn is handled by the scope's policy like any other work and is
// also returned by Await.
func Async[T any](l Launcher, fn func(n *Node) (T, error), opts ...LaunchOption) (*Deferred[T], error) {
	if fn == nil {
		return nil, ErrNilWork
	}
	d := &Deferred[T]{}
	n, err := l.Launch(func(n *Node) error {
		d.val, d.err = fn(n)
		return d.err
	}, opts...)
	if err != nil {
		return nil, err
	}
	d.node = n
	return d, nil
}

// Node returns the node computing the value.
func (d *Deferred[T]) Node() *Node { return d.node }

// Await waits for the result. If ctx ends first it returns the context's
// cause and leaves the computation running. A computation that was
// cancelled returns its cancellation error.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-d.node.Done():
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	}
	st, cause := d.node.Join(context.Background())
	switch {
	case st == Completed:
		return d.val, nil
	case d.err != nil:
		return zero, d.err
	case cause != nil:
		return zero, cause
	default:
		return zero, d.node.tok.Err()
	}
}

// RunOn runs fn as a child of n on dispatcher d and waits for its result,
// so the caller continues with a value computed in another execution
// context. Cancelling n cancels fn, and RunOn still waits for fn to return.
// When n already runs on d, fn is called directly with n; dispatching to a
// busy Main would otherwise wait on itself.
func RunOn[T any](n *Node, d sched.Dispatcher, fn func(c *Node) (T, error)) (T, error) {
	if n.dispatcher == d {
		return fn(n)
	}
	def, err := Async(n, fn, On(d), Named(n.name+" on "+d.String()))
	if err != nil {
		var zero T
		return zero, err
	}
	return def.Await(context.Background())
}
