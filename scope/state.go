package scope

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
)

// Policy decides what a failing node does to the rest of its scope.
type Policy int

const (
	// Propagating cancels the whole scope on the first failure. Ancestors of
	// the failing node end Failed with the same cause, everything else ends
	// Cancelled.
	Propagating Policy = iota
	// Isolating contains a failure to the node that failed.
	Isolating
)

// FailFast and Supervisor are the earlier names of the two policies.
const (
	FailFast   = Propagating
	Supervisor = Isolating
)

func (p Policy) String() string {
	switch p {
	case Propagating:
		return "propagating"
	case Isolating:
		return "isolating"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// State is the lifecycle state of a Node.
type State int

const (
	Created State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s can no longer change.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

var (
	// ErrScopeClosed is returned by Launch after Close.
	ErrScopeClosed = errors.New("scope: closed")
	// ErrParentTerminated is returned when launching a child of a node that
	// already reached a terminal state.
	ErrParentTerminated = errors.New("scope: parent node terminated")
	// ErrNilWork is returned when Launch is given no work.
	ErrNilWork = errors.New("scope: nil work")
)

// WorkFailure is the cause recorded for a node whose work returned a domain
// error or panicked.
type WorkFailure struct {
	Node  uuid.UUID
	Name  string
	Cause error
}

func (e *WorkFailure) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("scope: node %s (%s) failed: %v", e.Name, e.Node, e.Cause)
	}
	return fmt.Sprintf("scope: node %s failed: %v", e.Node, e.Cause)
}

func (e *WorkFailure) Unwrap() error { return e.Cause }

// PanicError carries a value recovered from panicking work.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
