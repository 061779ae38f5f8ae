package scope

import (
	"time"

	"github.com/google/uuid"

	"github.com/NetPo4ki/go-flowscope/sched"
)

// Observer receives scope and node lifecycle events. Implementations must be
// safe for concurrent use; calls are made without any scope lock held.
type Observer interface {
	ScopeCreated(info ScopeInfo)
	ScopeCancelled(info ScopeInfo, cause error)
	ScopeJoined(info ScopeInfo, wait time.Duration)
	TaskStarted(info NodeInfo)
	TaskFinished(info NodeInfo, dur time.Duration, err error, panicked bool)
}

// ScopeInfo identifies a scope in observer callbacks.
type ScopeInfo struct {
	ID     uuid.UUID
	Name   string
	Policy Policy
}

// NodeInfo is a snapshot of a node.
type NodeInfo struct {
	ID         uuid.UUID
	Name       string
	Parent     uuid.UUID // uuid.Nil for top-level nodes
	Scope      uuid.UUID
	Dispatcher sched.Dispatcher
	State      State
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ScopeCreated(ScopeInfo)                            {}
func (NopObserver) ScopeCancelled(ScopeInfo, error)                   {}
func (NopObserver) ScopeJoined(ScopeInfo, time.Duration)              {}
func (NopObserver) TaskStarted(NodeInfo)                              {}
func (NopObserver) TaskFinished(NodeInfo, time.Duration, error, bool) {}

type multiObserver []Observer

// MultiObserver fans every event out to each of obs in order.
func MultiObserver(obs ...Observer) Observer { return multiObserver(obs) }

func (m multiObserver) ScopeCreated(info ScopeInfo) {
	for _, o := range m {
		o.ScopeCreated(info)
	}
}

func (m multiObserver) ScopeCancelled(info ScopeInfo, cause error) {
	for _, o := range m {
		o.ScopeCancelled(info, cause)
	}
}

func (m multiObserver) ScopeJoined(info ScopeInfo, wait time.Duration) {
	for _, o := range m {
		o.ScopeJoined(info, wait)
	}
}

func (m multiObserver) TaskStarted(info NodeInfo) {
	for _, o := range m {
		o.TaskStarted(info)
	}
}

func (m multiObserver) TaskFinished(info NodeInfo, dur time.Duration, err error, panicked bool) {
	for _, o := range m {
		o.TaskFinished(info, dur, err, panicked)
	}
}
