package broadcast

import (
	"log/slog"
	"sync/atomic"

	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/scope"
)

// Cold is a stream without shared state: every Collect runs its own
// producer, and values are handed to the collector one by one on the
// producer's goroutine.
type Cold[T any] struct {
	produce Producer[T]
	launch  []scope.LaunchOption
	log     *slog.Logger
	runs    atomic.Int64
}

func NewCold[T any](produce Producer[T], opts ...Option) (*Cold[T], error) {
	if produce == nil {
		return nil, ErrNilProducer
	}
	cfg, err := resolve[T](opts)
	if err != nil {
		return nil, err
	}
	return &Cold[T]{
		produce: produce,
		launch:  cfg.launchOptions("cold collector"),
		log:     cfg.log.With("stream", cfg.name),
	}, nil
}

// Runs returns how many producer runs have been started.
func (c *Cold[T]) Runs() int64 { return c.runs.Load() }

// Collect runs a fresh producer as a node of sc and passes each value to
// onValue before the producer continues. The producer is cancelled when the
// node is, or when onValue returns an error; that error becomes the node's
// result.
func (c *Cold[T]) Collect(sc *scope.Scope, onValue OnValue[T]) (*scope.Node, error) {
	if onValue == nil {
		return nil, ErrNilConsumer
	}
	return sc.Launch(func(n *scope.Node) error {
		run := c.runs.Add(1)
		c.log.Debug("cold producer started", "run", run)

		tok := cancel.New()
		unregister := n.Token().OnCancel(func(reason error) { tok.Cancel(reason) })
		defer unregister()

		var stopErr error
		err := c.produce(tok, func(v T) {
			if tok.IsCancelled() {
				return
			}
			if err := onValue(tok, v); err != nil {
				stopErr = err
				tok.Cancel(err)
			}
		})
		if stopErr != nil {
			return stopErr
		}
		return err
	}, c.launch...)
}
