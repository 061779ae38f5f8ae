package broadcast

import (
	"fmt"
	"time"
)

// Kind names an activation policy.
type Kind int

const (
	KindEager Kind = iota
	KindLazily
	KindWhileSubscribed
)

func (k Kind) String() string {
	switch k {
	case KindEager:
		return "eager"
	case KindLazily:
		return "lazily"
	case KindWhileSubscribed:
		return "while_subscribed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Policy decides when the producer of a Broadcaster runs.
type Policy struct {
	kind  Kind
	grace time.Duration
}

// Eager starts the producer when the broadcaster is created. Subscriber
// count never stops it; only the owning scope does.
func Eager() Policy { return Policy{kind: KindEager} }

// Lazily starts the producer on the first subscription and keeps it running
// afterwards.
func Lazily() Policy { return Policy{kind: KindLazily} }

// WhileSubscribed starts the producer when the subscriber count goes from 0
// to 1 and stops it once the count has stayed at 0 for grace. A grace of 0
// stops it as soon as the last subscriber leaves.
func WhileSubscribed(grace time.Duration) Policy {
	if grace < 0 {
		grace = 0
	}
	return Policy{kind: KindWhileSubscribed, grace: grace}
}

func (p Policy) Kind() Kind { return p.kind }

// Grace is the stop delay of a WhileSubscribed policy, 0 otherwise.
func (p Policy) Grace() time.Duration { return p.grace }

func (p Policy) String() string {
	if p.kind == KindWhileSubscribed {
		return fmt.Sprintf("while_subscribed(%s)", p.grace)
	}
	return p.kind.String()
}

// ProducerState is the lifecycle of a broadcaster's producer.
type ProducerState int

const (
	NotStarted ProducerState = iota
	Running
	// Stopped means the grace period expired with no subscribers. A later
	// subscription restarts the producer.
	Stopped
	// Cancelled means the producer was cancelled by its scope.
	Cancelled
	Failed
	// Completed means a finite producer returned normally.
	Completed
)

func (s ProducerState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("producer_state(%d)", int(s))
	}
}
