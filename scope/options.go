package scope

import (
	"log/slog"

	"github.com/NetPo4ki/go-flowscope/sched"
)

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	Observer       Observer
	MaxConcurrency int
	Scheduler      *sched.Scheduler
	Dispatcher     sched.Dispatcher
	Logger         *slog.Logger
	Name           string
}

// Work submitted without an explicit dispatcher runs on IO.
func defaultOptions() Options {
	return Options{PanicAsError: true, Dispatcher: sched.IO}
}

func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

func WithScheduler(s *sched.Scheduler) Option { return func(o *Options) { o.Scheduler = s } }

func WithDispatcher(d sched.Dispatcher) Option { return func(o *Options) { o.Dispatcher = d } }

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithName(name string) Option { return func(o *Options) { o.Name = name } }

// LaunchOption configures a single Launch.
type LaunchOption func(*launchOptions)

type launchOptions struct {
	name       string
	dispatcher sched.Dispatcher
	atomic     bool
}

// Named attaches a human readable name to the node.
func Named(name string) LaunchOption { return func(o *launchOptions) { o.name = name } }

// On runs the node's work on d instead of the scope's dispatcher.
func On(d sched.Dispatcher) LaunchOption { return func(o *launchOptions) { o.dispatcher = d } }

// Atomic runs the work even if the node is cancelled before a worker picks
// it up. The work then starts with a cancelled token and is expected to
// return promptly. A node with a concurrency limit runs without a slot in
// that case.
func Atomic() LaunchOption { return func(o *launchOptions) { o.atomic = true } }
