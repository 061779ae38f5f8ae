package broadcast

import (
	"fmt"
	"log/slog"

	"github.com/NetPo4ki/go-flowscope/internal/logging"
	"github.com/NetPo4ki/go-flowscope/scope"
	"github.com/NetPo4ki/go-flowscope/sched"
)

type Option func(*config)

type config struct {
	name          string
	initial       any
	hasInitial    bool
	equal         any
	dispatcher    sched.Dispatcher
	hasDispatcher bool
	obs           Observer
	log           *slog.Logger
}

// WithInitial seeds the latest-value cache, so the first subscriber sees v
// before the producer emits anything.
func WithInitial[T any](v T) Option {
	return func(c *config) { c.initial, c.hasInitial = v, true }
}

// WithEqual drops an emission equal to the cached value.
func WithEqual[T any](eq func(a, b T) bool) Option {
	return func(c *config) { c.equal = eq }
}

// WithDispatcher runs the producer on d instead of the scope's dispatcher.
func WithDispatcher(d sched.Dispatcher) Option {
	return func(c *config) { c.dispatcher, c.hasDispatcher = d, true }
}

func WithObserver(obs Observer) Option { return func(c *config) { c.obs = obs } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

func WithName(name string) Option { return func(c *config) { c.name = name } }

// typed is a config resolved against the element type.
type typed[T any] struct {
	config
	initial T
	equal   func(a, b T) bool
}

func resolve[T any](opts []Option) (typed[T], error) {
	var t typed[T]
	for _, fn := range opts {
		fn(&t.config)
	}
	if t.config.hasInitial {
		v, ok := t.config.initial.(T)
		if !ok {
			return t, fmt.Errorf("broadcast: initial value of type %T does not match %T", t.config.initial, t.initial)
		}
		t.initial = v
	}
	if t.config.equal != nil {
		eq, ok := t.config.equal.(func(a, b T) bool)
		if !ok {
			return t, fmt.Errorf("broadcast: equality %T does not compare %T", t.config.equal, t.initial)
		}
		t.equal = eq
	}
	if t.obs == nil {
		t.obs = NopObserver{}
	}
	if t.log == nil {
		t.log = logging.Discard()
	}
	return t, nil
}

func (c config) launchOptions(role string) []scope.LaunchOption {
	name := role
	if c.name != "" {
		name = c.name + " " + role
	}
	opts := []scope.LaunchOption{scope.Named(name)}
	if c.hasDispatcher {
		opts = append(opts, scope.On(c.dispatcher))
	}
	return opts
}
