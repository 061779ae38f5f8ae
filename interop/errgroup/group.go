// Package errgroup offers the golang.org/x/sync/errgroup API on top of a
// Propagating scope, so code written against errgroup gets scope
// bookkeeping, observers and dispatchers without changing call sites.
package errgroup

import (
	"context"
	"sync"

	"github.com/NetPo4ki/go-flowscope/scope"
)

// Group is an errgroup-compatible wrapper over a Propagating scope.
type Group struct {
	s      *scope.Scope
	cancel context.CancelCauseFunc

	errOnce sync.Once
	err     error
}

// WithContext creates a Group bound to ctx. The returned context is cancelled
// when a function passed to Go fails, when ctx is cancelled, or when Wait
// returns. opts configure the underlying scope.
func WithContext(ctx context.Context, opts ...scope.Option) (*Group, context.Context) {
	gctx, cancel := context.WithCancelCause(ctx)
	s := scope.New(gctx, scope.Propagating, opts...)
	s.Token().OnCancel(cancel)
	return &Group{s: s, cancel: cancel}, gctx
}

// Scope exposes the underlying scope, for instance to inspect live nodes.
func (g *Group) Scope() *scope.Scope { return g.s }

// Go runs f in a new node. f runs even if the group is already cancelled.
// Calls made after Wait are ignored.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	_ = g.s.Go(func(context.Context) error {
		err := f()
		if err != nil {
			g.errOnce.Do(func() { g.err = err })
		}
		return err
	})
}

// Wait blocks until every function started with Go has returned and closes
// the group. It returns the first non-nil error returned by one of them.
func (g *Group) Wait() error {
	_ = g.s.Wait()
	g.cancel(g.err)
	_ = g.s.Close()
	return g.err
}
