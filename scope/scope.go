package scope

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/internal/logging"
	"github.com/NetPo4ki/go-flowscope/sched"
)

// Scope owns a tree of nodes. Everything launched through it is cancelled
// when it closes, and Close does not return before every node is terminal.
type Scope struct {
	id     uuid.UUID
	root   *cancel.Token
	policy Policy
	opts   Options
	obs    Observer
	lim    Limiter
	sched  *sched.Scheduler
	log    *slog.Logger

	mu          sync.Mutex
	nodes       map[uuid.UUID]*Node
	index       map[uuid.UUID]map[uuid.UUID]struct{} // parent id -> child ids, uuid.Nil for top-level
	live        int
	idle        []chan struct{}
	settling    int // finish calls still delivering callbacks
	closed      bool
	closeDone   chan struct{}
	closeErr    error
	firstErr    error
	cancelCause error
	children    []*Scope
	parent      *Scope
	unbind      []func()
}

// New opens a scope with the given failure policy. Cancelling parent
// cancels the scope.
func New(parent context.Context, policy Policy, optFns ...Option) *Scope {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	s := newScope(cancel.New(), policy, opts)
	if parent != nil && parent.Done() != nil {
		stop := context.AfterFunc(parent, func() { s.Cancel(context.Cause(parent)) })
		s.unbind = append(s.unbind, func() { stop() })
	}
	return s
}

func newScope(root *cancel.Token, policy Policy, opts Options) *Scope {
	s := &Scope{
		id:        uuid.New(),
		root:      root,
		policy:    policy,
		opts:      opts,
		obs:       opts.Observer,
		sched:     opts.Scheduler,
		log:       opts.Logger,
		nodes:     make(map[uuid.UUID]*Node),
		index:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		closeDone: make(chan struct{}),
	}
	if s.obs == nil {
		s.obs = NopObserver{}
	}
	if s.sched == nil {
		s.sched = sched.Shared()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = s.log.With("scope", s.id.String())
	if opts.Name != "" {
		s.log = s.log.With("scope_name", opts.Name)
	}
	if opts.MaxConcurrency > 0 {
		s.lim = newSemaphoreLimiter(opts.MaxConcurrency)
	}
	s.obs.ScopeCreated(s.Info())
	return s
}

// ID returns the scope id.
func (s *Scope) ID() uuid.UUID { return s.id }

// Policy returns the failure policy.
func (s *Scope) Policy() Policy { return s.policy }

// Info returns the identifying fields passed to observers.
func (s *Scope) Info() ScopeInfo {
	return ScopeInfo{ID: s.id, Name: s.opts.Name, Policy: s.policy}
}

// Context returns a context cancelled together with the scope.
func (s *Scope) Context() context.Context { return s.root.Context() }

// Token returns the scope's root cancellation signal.
func (s *Scope) Token() cancel.Signal { return s.root }

// Scheduler returns the scheduler nodes are dispatched on.
func (s *Scope) Scheduler() *sched.Scheduler { return s.sched }

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launch starts a top-level node.
func (s *Scope) Launch(work Work, opts ...LaunchOption) (*Node, error) {
	return s.launch(nil, work, opts)
}

// Go starts fn as a top-level node, handing it the node's context. fn always
// runs, even when the scope is cancelled before fn is scheduled; it then
// sees an already cancelled context.
func (s *Scope) Go(fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilWork
	}
	_, err := s.Launch(func(n *Node) error { return fn(n.Context()) }, Atomic())
	return err
}

func (s *Scope) launch(parent *Node, work Work, optFns []LaunchOption) (*Node, error) {
	if work == nil {
		return nil, ErrNilWork
	}
	lo := launchOptions{dispatcher: s.opts.Dispatcher}
	for _, fn := range optFns {
		fn(&lo)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}
	parentTok, parentID := s.root, uuid.Nil
	if parent != nil {
		if parent.state.Terminal() {
			s.mu.Unlock()
			return nil, ErrParentTerminated
		}
		parentTok, parentID = parent.tok, parent.id
		parent.pending++
	}
	n := &Node{
		id:         uuid.New(),
		name:       lo.name,
		parent:     parentID,
		scope:      s,
		tok:        parentTok.Child(),
		dispatcher: lo.dispatcher,
		work:       work,
		atomic:     lo.atomic,
		done:       make(chan struct{}),
		state:      Created,
	}
	s.nodes[n.id] = n
	kids := s.index[parentID]
	if kids == nil {
		kids = make(map[uuid.UUID]struct{})
		s.index[parentID] = kids
	}
	kids[n.id] = struct{}{}
	s.live++
	s.mu.Unlock()

	s.log.Debug("node launched", "node", n.id.String(), "name", n.name, "parent", parentID.String(),
		"dispatcher", lo.dispatcher.String())
	s.sched.Dispatch(n.tok.Context(), lo.dispatcher, func() { s.run(n) })
	return n, nil
}

func (s *Scope) run(n *Node) {
	if s.lim != nil {
		if err := s.lim.Acquire(n.tok.Context()); err == nil {
			defer s.lim.Release()
		} else if !n.atomic {
			s.finish(n, n.tok.Err(), false, false, 0)
			return
		}
	}

	s.mu.Lock()
	if n.tok.IsCancelled() && !n.atomic {
		s.mu.Unlock()
		s.finish(n, n.tok.Err(), false, false, 0)
		return
	}
	n.state = Running
	info := n.infoLocked()
	s.mu.Unlock()

	s.obs.TaskStarted(info)
	start := time.Now()
	err, panicked := s.exec(n)
	s.finish(n, err, true, panicked, time.Since(start))
}

// exec runs the node's work with panic recovery.
func (s *Scope) exec(n *Node) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			if !s.opts.PanicAsError {
				s.obs.TaskFinished(n.Info(), 0, nil, true)
				panic(r)
			}
			err, panicked = newPanicError(r), true
		}
	}()
	return n.work(n), false
}

// finish records the result of the node's work, applies the failure policy
// and settles whatever became terminal. started is false for nodes that were
// cancelled before their work ran.
func (s *Scope) finish(n *Node, err error, started, panicked bool, dur time.Duration) {
	var (
		failure  error
		escalate bool
	)
	s.mu.Lock()
	n.workDone = true
	n.workErr = err
	if err != nil && !n.cancelled(err) {
		failure = &WorkFailure{Node: n.id, Name: n.name, Cause: err}
		n.failure = failure
		if s.firstErr == nil {
			s.firstErr = failure
		}
		if s.policy == Propagating && n.escalated == nil {
			escalate = true
			for p := s.nodes[n.parent]; p != nil; p = s.nodes[p.parent] {
				if p.escalated == nil {
					p.escalated = failure
				}
			}
		}
	}
	info := n.infoLocked()
	settled := s.settleLocked(n)
	s.settling++
	s.mu.Unlock()

	if started {
		s.obs.TaskFinished(info, dur, err, panicked)
	}
	if failure != nil {
		s.log.Debug("node failed", "node", n.id.String(), "err", err, "escalate", escalate)
		n.tok.Cancel(failure)
		if escalate {
			s.cancelRoot(failure)
		}
	}
	s.notify(settled)
	s.wakeIdle()
}

// settleLocked moves n, and then any ancestor that was only waiting for n,
// into its terminal state and drops it from the tables.
func (s *Scope) settleLocked(n *Node) []*Node {
	var out []*Node
	for n != nil && n.workDone && n.pending == 0 && !n.state.Terminal() {
		n.state, n.cause = n.outcome()
		delete(s.nodes, n.id)
		if kids := s.index[n.parent]; kids != nil {
			delete(kids, n.id)
			if len(kids) == 0 && n.parent != uuid.Nil {
				delete(s.index, n.parent)
			}
		}
		delete(s.index, n.id)
		s.live--
		out = append(out, n)

		p := s.nodes[n.parent]
		if p != nil {
			p.pending--
		}
		n = p
	}
	return out
}

// wakeIdle releases waiters once nothing is live. It runs after completion
// callbacks so Wait and Close observe their effects.
func (s *Scope) wakeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settling--
	if s.live != 0 || s.settling != 0 {
		return
	}
	for _, ch := range s.idle {
		close(ch)
	}
	s.idle = nil
}

func (s *Scope) notify(settled []*Node) {
	for _, n := range settled {
		n.tok.Detach()
		close(n.done)
		s.log.Debug("node settled", "node", n.id.String(), "name", n.name, "state", n.state.String())
		for _, fn := range n.onDone {
			fn(n.state, n.cause)
		}
		n.onDone = nil
	}
}

// Cancel cancels every node in the scope. New launches are still accepted
// but start cancelled; use Close to refuse them.
func (s *Scope) Cancel(reason error) {
	if reason == nil {
		reason = cancel.ErrCancelled
	}
	s.mu.Lock()
	if s.cancelCause == nil {
		s.cancelCause = reason
	}
	s.mu.Unlock()
	s.cancelRoot(reason)
}

func (s *Scope) cancelRoot(reason error) {
	if s.root.Cancel(reason) {
		s.log.Debug("scope cancelled", "cause", reason)
		s.obs.ScopeCancelled(s.Info(), reason)
	}
}

// Wait blocks until no node of the scope is live. It returns the first
// failure, or the cause passed to Cancel.
func (s *Scope) Wait() error {
	start := time.Now()
	s.waitIdle()
	s.obs.ScopeJoined(s.Info(), time.Since(start))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstErr != nil {
		return s.firstErr
	}
	return s.cancelCause
}

func (s *Scope) waitIdle() {
	s.mu.Lock()
	if s.live == 0 && s.settling == 0 {
		s.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	s.idle = append(s.idle, ch)
	s.mu.Unlock()
	<-ch
}

// Close refuses further launches, cancels every node depth first, closes
// child scopes and blocks until all of them are terminal. It returns the
// first failure seen in the scope or its children. Calling Close again
// waits for the first call and returns the same result.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.closeDone
		return s.closeErr
	}
	s.closed = true
	children := s.children
	s.children = nil
	unbind := s.unbind
	s.unbind = nil
	s.mu.Unlock()

	start := time.Now()
	s.cancelRoot(ErrScopeClosed)

	var g errgroup.Group
	for _, c := range children {
		g.Go(c.Close)
	}
	childErr := g.Wait()
	s.waitIdle()

	for _, fn := range unbind {
		fn()
	}
	s.root.Detach()

	s.mu.Lock()
	s.closeErr = s.firstErr
	if s.closeErr == nil {
		s.closeErr = childErr
	}
	s.mu.Unlock()
	close(s.closeDone)

	s.log.Debug("scope closed", "wait", time.Since(start))
	s.obs.ScopeJoined(s.Info(), time.Since(start))
	if s.parent != nil {
		s.parent.dropChild(s)
	}
	return s.closeErr
}

func (s *Scope) dropChild(cs *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == cs {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// Child opens a nested scope. It is cancelled with s and closed by s.Close
// unless it was closed before; a closed child is dropped from s.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	childOpts.Name = ""
	for _, fn := range optFns {
		fn(&childOpts)
	}
	cs := newScope(s.root.Child(), policy, childOpts)
	cs.parent = s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = cs.Close()
		return cs
	}
	s.children = append(s.children, cs)
	s.mu.Unlock()
	return cs
}

// LiveCount returns the number of nodes not yet terminal.
func (s *Scope) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Live returns snapshots of all live nodes, parents before children.
func (s *Scope) Live() []NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeInfo, 0, s.live)
	var walk func(parent uuid.UUID)
	walk = func(parent uuid.UUID) {
		ids := make([]uuid.UUID, 0, len(s.index[parent]))
		for id := range s.index[parent] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, id := range ids {
			if n := s.nodes[id]; n != nil {
				out = append(out, n.infoLocked())
				walk(id)
			}
		}
	}
	walk(uuid.Nil)
	return out
}

// Children returns the live direct children of the node with the given id,
// or the top-level nodes for uuid.Nil.
func (s *Scope) Children(parent uuid.UUID) []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Node, 0, len(s.index[parent]))
	for id := range s.index[parent] {
		if n := s.nodes[id]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Err returns the first failure recorded so far.
func (s *Scope) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// IsFailure reports whether err carries a WorkFailure.
func IsFailure(err error) bool {
	var wf *WorkFailure
	return errors.As(err, &wf)
}
