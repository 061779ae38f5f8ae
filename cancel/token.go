package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is the reason recorded when a token is cancelled without one,
// and every error returned by Err matches it.
var ErrCancelled = errors.New("cancel: cancelled")

// Signal is the read-only side of a Token. Work functions receive a Signal so
// they can observe cancellation without being able to trigger it.
//
// Cancellation is cooperative: work that never calls Checkpoint, Sleep or
// selects on Done keeps running after its token is cancelled.
type Signal interface {
	IsCancelled() bool
	Done() <-chan struct{}
	Reason() error
	Err() error
	OnCancel(fn func(reason error)) (unregister func())
	Checkpoint() error
	Sleep(d time.Duration) error
	Context() context.Context
}

type callback struct {
	id uint64
	fn func(reason error)
}

// Token records whether a unit of work is still wanted.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	reason    error
	done      chan struct{}
	callbacks []callback
	children  map[*Token]struct{}
	parent    *Token
	nextID    uint64

	ctxOnce sync.Once
	ctx     context.Context
}

// New returns a live token with no parent.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Child returns a token that is cancelled whenever t is. Cancelling the child
// has no effect on t. A child of an already cancelled token starts cancelled.
func (t *Token) Child() *Token {
	c := New()
	t.mu.Lock()
	if t.cancelled {
		reason := t.reason
		t.mu.Unlock()
		c.Cancel(reason)
		return c
	}
	if t.children == nil {
		t.children = make(map[*Token]struct{})
	}
	t.children[c] = struct{}{}
	c.parent = t
	t.mu.Unlock()
	return c
}

// Detach removes t from its parent's child set. It is called once the work
// guarded by t is finished so long-lived parents do not retain it.
func (t *Token) Detach() {
	t.mu.Lock()
	p := t.parent
	t.parent = nil
	t.mu.Unlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.children, t)
	p.mu.Unlock()
}

// Cancel transitions the token to cancelled. Linked children are cancelled
// first, depth first, then the registered callbacks run in registration order
// on the calling goroutine. Only the call that performs the transition
// returns true.
func (t *Token) Cancel(reason error) bool {
	if reason == nil {
		reason = ErrCancelled
	}
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	t.reason = reason
	children := make([]*Token, 0, len(t.children))
	for c := range t.children {
		children = append(children, c)
	}
	t.children = nil
	cbs := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, c := range children {
		c.mu.Lock()
		c.parent = nil
		c.mu.Unlock()
		c.Cancel(reason)
	}
	for _, cb := range cbs {
		cb.fn(reason)
	}
	return true
}

// OnCancel registers fn to run when the token is cancelled. If the token is
// already cancelled fn runs immediately with the stored reason. The returned
// function removes a callback that has not fired yet.
func (t *Token) OnCancel(fn func(reason error)) (unregister func()) {
	t.mu.Lock()
	if t.cancelled {
		reason := t.reason
		t.mu.Unlock()
		fn(reason)
		return func() {}
	}
	t.nextID++
	id := t.nextID
	t.callbacks = append(t.callbacks, callback{id: id, fn: fn})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, cb := range t.callbacks {
			if cb.id == id {
				t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
				return
			}
		}
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed on cancellation.
func (t *Token) Done() <-chan struct{} { return t.done }

// Reason returns the recorded reason, or nil while the token is live.
func (t *Token) Reason() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Err returns nil while the token is live. Afterwards it returns an error
// matching both ErrCancelled and the reason.
func (t *Token) Err() error {
	reason := t.Reason()
	if reason == nil {
		return nil
	}
	if errors.Is(reason, ErrCancelled) {
		return reason
	}
	return fmt.Errorf("%w: %w", ErrCancelled, reason)
}

// Checkpoint is an explicit cancellation check point. It returns Err.
func (t *Token) Checkpoint() error { return t.Err() }

// Sleep waits for d or until the token is cancelled, whichever is first.
func (t *Token) Sleep(d time.Duration) error {
	if err := t.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.done:
		return t.Err()
	}
}

// Context returns a context cancelled together with the token. Its cause is
// the token's Err.
func (t *Token) Context() context.Context {
	t.ctxOnce.Do(func() {
		ctx, cancel := context.WithCancelCause(context.Background())
		t.ctx = ctx
		t.OnCancel(func(error) { cancel(t.Err()) })
	})
	return t.ctx
}

// IsCancellation reports whether err is the cooperative exit signal rather
// than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
