package scope

import (
	"context"

	"github.com/NetPo4ki/go-flowscope/cancel"
)

// Lifecycle is an external event source, such as a view being destroyed or
// a view-model being cleared, whose end should tear down bound scopes.
type Lifecycle interface {
	OnDestroy(fn func()) (unregister func())
}

// Owner is a Lifecycle driven by an explicit Destroy call.
type Owner struct {
	tok *cancel.Token
}

// NewOwner returns a live Owner.
func NewOwner() *Owner { return &Owner{tok: cancel.New()} }

// Destroy fires the destroy event. Bound scopes are closed synchronously, so
// Destroy must not be called from work running inside one of them.
func (o *Owner) Destroy() bool { return o.tok.Cancel(nil) }

// Destroyed reports whether Destroy has been called.
func (o *Owner) Destroyed() bool { return o.tok.IsCancelled() }

// OnDestroy registers fn for the destroy event.
func (o *Owner) OnDestroy(fn func()) (unregister func()) {
	return o.tok.OnCancel(func(error) { fn() })
}

// BindTo closes s when l fires its destroy event.
func (s *Scope) BindTo(l Lifecycle) {
	unregister := l.OnDestroy(func() { _ = s.Close() })
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unregister()
		return
	}
	s.unbind = append(s.unbind, unregister)
	s.mu.Unlock()
}

// ForOwner opens a scope bound to l.
func ForOwner(l Lifecycle, policy Policy, optFns ...Option) *Scope {
	s := New(context.Background(), policy, optFns...)
	s.BindTo(l)
	return s
}
