package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/scope"
)

// Producer computes values and hands them to emit until tok is cancelled or
// it has nothing more to produce. It must return tok.Err() when it stops
// because of cancellation.
type Producer[T any] func(tok cancel.Signal, emit func(T)) error

// Broadcaster shares the values of one producer with any number of
// subscribers. The producer runs as a node of the broadcaster's scope and
// is started and stopped according to the Policy. The latest value is kept
// after the producer stops.
type Broadcaster[T any] struct {
	sc      *scope.Scope
	policy  Policy
	produce Producer[T]
	equal   func(a, b T) bool
	launch  []scope.LaunchOption
	info    Info
	obs     Observer
	log     *slog.Logger

	mu       sync.Mutex
	value    T
	hasValue bool
	subs     map[uint64]*Subscription[T]
	nextID   uint64
	state    ProducerState
	err      error
	producer *scope.Node
	gen      uint64 // bumped whenever a producer run starts or is abandoned
	stop     *time.Timer
	stopGen  uint64
	halted   bool
}

// New creates a broadcaster whose producer is owned by sc. An Eager
// producer is launched before New returns. Cancelling or closing sc stops
// the producer for good; subscribers keep receiving the cached value.
func New[T any](sc *scope.Scope, policy Policy, produce Producer[T], opts ...Option) (*Broadcaster[T], error) {
	if sc == nil {
		return nil, ErrNilScope
	}
	if produce == nil {
		return nil, ErrNilProducer
	}
	cfg, err := resolve[T](opts)
	if err != nil {
		return nil, err
	}
	b := newBroadcaster(sc, policy, produce, cfg)
	sc.Token().OnCancel(func(error) { b.halt() })

	if policy.kind == KindEager {
		b.mu.Lock()
		gen, ok := b.startLocked()
		b.mu.Unlock()
		if ok {
			b.started(gen)
		}
	}
	return b, nil
}

func newBroadcaster[T any](sc *scope.Scope, policy Policy, produce Producer[T], cfg typed[T]) *Broadcaster[T] {
	b := &Broadcaster[T]{
		sc:      sc,
		policy:  policy,
		produce: produce,
		equal:   cfg.equal,
		launch:  cfg.launchOptions("producer"),
		info:    Info{Name: cfg.name, Policy: policy},
		obs:     cfg.obs,
		log:     cfg.log.With("broadcaster", cfg.name, "policy", policy.String()),
		subs:    make(map[uint64]*Subscription[T]),
	}
	if cfg.hasInitial {
		b.value, b.hasValue = cfg.initial, true
	}
	return b
}

func (b *Broadcaster[T]) Policy() Policy { return b.policy }

func (b *Broadcaster[T]) Info() Info { return b.info }

// Value returns the cached latest value.
func (b *Broadcaster[T]) Value() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.hasValue
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ProducerState returns the state of the producer.
func (b *Broadcaster[T]) ProducerState() ProducerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the producer's failure once it is Failed.
func (b *Broadcaster[T]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Subscribe registers a new subscriber. If a value is cached it is queued
// for the subscriber before anything emitted later. The first subscriber of
// a Lazily or WhileSubscribed broadcaster starts the producer, and any
// subscriber cancels a pending grace-period stop.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	b.nextID++
	s := newSubscription(b, b.nextID)
	if b.hasValue {
		s.push(b.value, true)
	}
	b.subs[s.id] = s
	b.disarmLocked()
	count := len(b.subs)
	var (
		gen   uint64
		start bool
	)
	if b.restartableLocked() {
		gen, start = b.startLocked()
	}
	b.mu.Unlock()

	b.log.Debug("subscribed", "subscription", s.id, "subscribers", count)
	b.obs.Subscribed(b.info, count)
	if start {
		b.started(gen)
	}
	return s
}

// Collect subscribes and starts a latest-wins delivery loop in sc.
func (b *Broadcaster[T]) Collect(sc *scope.Scope, onValue OnValue[T], opts ...scope.LaunchOption) (*scope.Node, error) {
	return b.Subscribe().ConsumeLatest(sc, onValue, opts...)
}

func (b *Broadcaster[T]) unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	if s.left {
		b.mu.Unlock()
		return
	}
	s.left = true
	close(s.gone)
	delete(b.subs, s.id)
	count := len(b.subs)
	var stopped *scope.Node
	stop := false
	if count == 0 && b.policy.kind == KindWhileSubscribed && b.state == Running && !b.halted {
		if b.policy.grace == 0 {
			stopped, stop = b.stopLocked(), true
		} else {
			b.armLocked()
		}
	}
	b.mu.Unlock()

	b.log.Debug("unsubscribed", "subscription", s.id, "subscribers", count)
	b.obs.Unsubscribed(b.info, count)
	if stop {
		b.stopped(stopped)
	}
}

func (b *Broadcaster[T]) restartableLocked() bool {
	switch b.policy.kind {
	case KindLazily:
		return b.state == NotStarted
	case KindWhileSubscribed:
		return b.state == NotStarted || b.state == Stopped
	default:
		return false
	}
}

// startLocked reserves a new producer run.
func (b *Broadcaster[T]) startLocked() (uint64, bool) {
	if b.halted || b.produce == nil {
		return 0, false
	}
	b.gen++
	b.state = Running
	b.err = nil
	return b.gen, true
}

// started launches the producer run reserved by startLocked.
func (b *Broadcaster[T]) started(gen uint64) {
	b.log.Debug("producer started", "run", gen)
	b.obs.ProducerChanged(b.info, Running, nil)

	n, err := b.sc.Launch(func(n *scope.Node) error {
		return b.produce(n.Token(), func(v T) { b.emit(gen, v) })
	}, b.launch...)
	if err != nil {
		b.settle(gen, scope.Cancelled, nil)
		return
	}

	b.mu.Lock()
	current := gen == b.gen
	if current {
		b.producer = n
	}
	b.mu.Unlock()
	if !current {
		// stopped before the node was recorded
		n.Cancel(ErrGraceExpired)
	}
	n.OnComplete(func(st scope.State, cause error) { b.settle(gen, st, cause) })
}

// settle records how producer run gen ended, unless the run was already
// abandoned by a grace-period stop.
func (b *Broadcaster[T]) settle(gen uint64, st scope.State, cause error) {
	b.mu.Lock()
	if gen != b.gen || b.state != Running {
		b.mu.Unlock()
		return
	}
	b.producer = nil
	switch st {
	case scope.Completed:
		b.state = Completed
	case scope.Failed:
		b.state, b.err = Failed, cause
	default:
		b.state = Cancelled
	}
	ps, err := b.state, b.err
	b.mu.Unlock()

	b.log.Debug("producer ended", "run", gen, "state", ps.String(), "err", err)
	b.obs.ProducerChanged(b.info, ps, err)
}

// stopLocked abandons the current producer run and returns its node, which
// may be nil if the run has not been recorded yet.
func (b *Broadcaster[T]) stopLocked() *scope.Node {
	n := b.producer
	b.producer = nil
	b.gen++
	b.state = Stopped
	return n
}

func (b *Broadcaster[T]) stopped(n *scope.Node) {
	b.log.Debug("producer stopped", "grace", b.policy.grace)
	b.obs.ProducerChanged(b.info, Stopped, nil)
	if n != nil {
		n.Cancel(ErrGraceExpired)
	}
}

func (b *Broadcaster[T]) armLocked() {
	b.stopGen++
	g := b.stopGen
	b.stop = time.AfterFunc(b.policy.grace, func() { b.expire(g) })
}

func (b *Broadcaster[T]) disarmLocked() {
	if b.stop != nil {
		b.stop.Stop()
		b.stop = nil
	}
	b.stopGen++
}

func (b *Broadcaster[T]) expire(g uint64) {
	b.mu.Lock()
	if g != b.stopGen || len(b.subs) != 0 || b.state != Running || b.halted {
		b.mu.Unlock()
		return
	}
	b.stop = nil
	n := b.stopLocked()
	b.mu.Unlock()
	b.stopped(n)
}

// halt runs when the owning scope is cancelled. The scope cancels the
// producer node itself.
func (b *Broadcaster[T]) halt() {
	b.mu.Lock()
	b.halted = true
	b.disarmLocked()
	b.mu.Unlock()
	b.log.Debug("broadcaster halted")
}

func (b *Broadcaster[T]) emit(gen uint64, v T) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	changed := b.publishLocked(v)
	b.mu.Unlock()
	if changed {
		b.obs.Emitted(b.info)
	}
}

// publishLocked updates the cache and every subscriber's mailbox. It reports
// false when v was dropped as equal to the cached value.
func (b *Broadcaster[T]) publishLocked(v T) bool {
	if b.equal != nil && b.hasValue && b.equal(b.value, v) {
		return false
	}
	b.value, b.hasValue = v, true
	for _, s := range b.subs {
		s.push(v, false)
	}
	return true
}
