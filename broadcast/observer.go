package broadcast

import (
	"errors"
	"fmt"

	"github.com/NetPo4ki/go-flowscope/cancel"
)

var (
	// ErrSuperseded cancels a delivery that a newer value replaced.
	ErrSuperseded = fmt.Errorf("%w: superseded by a newer value", cancel.ErrCancelled)
	// ErrGraceExpired cancels a producer that had no subscribers for the
	// whole grace period.
	ErrGraceExpired = fmt.Errorf("%w: no subscribers for the grace period", cancel.ErrCancelled)
	// ErrUnsubscribed is returned by Next after Unsubscribe, and cancels an
	// in-flight delivery of a subscription that left.
	ErrUnsubscribed = fmt.Errorf("%w: unsubscribed", cancel.ErrCancelled)

	ErrNilScope    = errors.New("broadcast: nil scope")
	ErrNilProducer = errors.New("broadcast: nil producer")
	ErrNilConsumer = errors.New("broadcast: nil consumer")
	// ErrConsumed is returned when a second delivery loop is started on the
	// same subscription.
	ErrConsumed = errors.New("broadcast: subscription already consumed")
)

// Info identifies a broadcaster in observer callbacks.
type Info struct {
	Name   string
	Policy Policy
}

// Observer receives broadcaster events. Calls are made without the
// broadcaster lock held.
type Observer interface {
	Subscribed(info Info, subscribers int)
	Unsubscribed(info Info, subscribers int)
	Emitted(info Info)
	Superseded(info Info)
	ProducerChanged(info Info, state ProducerState, err error)
}

type NopObserver struct{}

func (NopObserver) Subscribed(Info, int)                       {}
func (NopObserver) Unsubscribed(Info, int)                     {}
func (NopObserver) Emitted(Info)                               {}
func (NopObserver) Superseded(Info)                            {}
func (NopObserver) ProducerChanged(Info, ProducerState, error) {}

type multiObserver []Observer

// MultiObserver fans every event out to each of obs in order.
func MultiObserver(obs ...Observer) Observer { return multiObserver(obs) }

func (m multiObserver) Subscribed(info Info, n int) {
	for _, o := range m {
		o.Subscribed(info, n)
	}
}

func (m multiObserver) Unsubscribed(info Info, n int) {
	for _, o := range m {
		o.Unsubscribed(info, n)
	}
}

func (m multiObserver) Emitted(info Info) {
	for _, o := range m {
		o.Emitted(info)
	}
}

func (m multiObserver) Superseded(info Info) {
	for _, o := range m {
		o.Superseded(info)
	}
}

func (m multiObserver) ProducerChanged(info Info, st ProducerState, err error) {
	for _, o := range m {
		o.ProducerChanged(info, st, err)
	}
}
