package scope

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/sched"
)

// Work is a unit of work run by a Node. It must check n.Token() at every
// point where it blocks or loops; cancellation is never forced.
type Work func(n *Node) error

// Node is one task in a scope's task tree. The scope owns every node in a
// flat table; a node only knows its parent's id and never holds its
// children.
type Node struct {
	id         uuid.UUID
	name       string
	parent     uuid.UUID
	scope      *Scope
	tok        *cancel.Token
	dispatcher sched.Dispatcher
	work       Work
	atomic     bool
	done       chan struct{}

	// guarded by scope.mu
	state     State
	cause     error
	workDone  bool
	workErr   error
	failure   error
	escalated error
	pending   int
	onDone    []func(State, error)
}

// ID returns the node's unique id.
func (n *Node) ID() uuid.UUID { return n.id }

// Name returns the name given with Named, if any.
func (n *Node) Name() string { return n.name }

// Scope returns the owning scope.
func (n *Node) Scope() *Scope { return n.scope }

// Token returns the node's cancellation signal.
func (n *Node) Token() cancel.Signal { return n.tok }

// Context returns a context cancelled together with the node.
func (n *Node) Context() context.Context { return n.tok.Context() }

// Checkpoint returns a cancellation error if the node has been cancelled.
func (n *Node) Checkpoint() error { return n.tok.Checkpoint() }

// Sleep pauses for d, returning early with a cancellation error if the node
// is cancelled.
func (n *Node) Sleep(d time.Duration) error { return n.tok.Sleep(d) }

// Launch starts a child of n in the same scope. The child is cancelled with
// n, and n does not settle until the child has.
func (n *Node) Launch(work Work, opts ...LaunchOption) (*Node, error) {
	return n.scope.launch(n, work, opts)
}

// Cancel requests cancellation of n and its subtree. It is a no-op once n is
// terminal.
func (n *Node) Cancel(reason error) {
	if n.State().Terminal() {
		return
	}
	n.tok.Cancel(reason)
}

// State returns the current state.
func (n *Node) State() State {
	n.scope.mu.Lock()
	defer n.scope.mu.Unlock()
	return n.state
}

// Err returns the failure cause once n is Failed, nil otherwise.
func (n *Node) Err() error {
	n.scope.mu.Lock()
	defer n.scope.mu.Unlock()
	return n.cause
}

// Done is closed when n reaches a terminal state.
func (n *Node) Done() <-chan struct{} { return n.done }

// Join waits until n is terminal or ctx is done. The returned error is
// ctx.Err() if ctx ended first, otherwise the failure cause of n.
func (n *Node) Join(ctx context.Context) (State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-n.done:
	case <-ctx.Done():
		return n.State(), ctx.Err()
	}
	n.scope.mu.Lock()
	defer n.scope.mu.Unlock()
	return n.state, n.cause
}

// OnComplete registers fn to receive the terminal state and failure cause.
// It runs exactly once; immediately if n is already terminal.
func (n *Node) OnComplete(fn func(State, error)) {
	n.scope.mu.Lock()
	if n.state.Terminal() {
		st, cause := n.state, n.cause
		n.scope.mu.Unlock()
		fn(st, cause)
		return
	}
	n.onDone = append(n.onDone, fn)
	n.scope.mu.Unlock()
}

// Info returns a snapshot of n.
func (n *Node) Info() NodeInfo {
	n.scope.mu.Lock()
	defer n.scope.mu.Unlock()
	return n.infoLocked()
}

func (n *Node) infoLocked() NodeInfo {
	return NodeInfo{
		ID:         n.id,
		Name:       n.name,
		Parent:     n.parent,
		Scope:      n.scope.id,
		Dispatcher: n.dispatcher,
		State:      n.state,
	}
}

// outcome decides the terminal state once the work has returned and every
// child has settled. An escalated failure from a descendant wins over the
// node's own result.
func (n *Node) outcome() (State, error) {
	switch {
	case n.escalated != nil:
		return Failed, n.escalated
	case n.failure != nil:
		return Failed, n.failure
	case n.workErr == nil && !n.tok.IsCancelled():
		return Completed, nil
	default:
		return Cancelled, nil
	}
}

// cancelled reports whether err returned by the work is the node's
// cooperative exit. A context.Canceled only counts once the node's own token
// is cancelled; from any other context it is an ordinary failure.
func (n *Node) cancelled(err error) bool {
	if errors.Is(err, cancel.ErrCancelled) {
		return true
	}
	return n.tok.IsCancelled() && errors.Is(err, context.Canceled)
}
