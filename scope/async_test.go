package scope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/sched"
)

func TestAsyncAwaitValue(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Propagating)
	d, err := Async(s, func(n *Node) (int, error) {
		if err := n.Sleep(5 * time.Millisecond); err != nil {
			return 0, err
		}
		return 42, nil
	}, Named("answer"))
	if err != nil {
		t.Fatalf("Async: %v", err)
	}
	v, err := d.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Await = %d, %v", v, err)
	}
	if d.Node().Name() != "answer" || d.Node().State() != Completed {
		t.Fatalf("node %q in state %v", d.Node().Name(), d.Node().State())
	}
	_ = s.Close()
}

func TestAsyncFailureReturnedAndIsolated(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Isolating)
	bad := errors.New("no such user")
	d, _ := Async(s, func(*Node) (string, error) { return "", bad })
	other, _ := Async(s, func(*Node) (string, error) { return "ok", nil })

	if _, err := d.Await(context.Background()); !errors.Is(err, bad) {
		t.Fatalf("Await = %v, want %v", err, bad)
	}
	if v, err := other.Await(context.Background()); err != nil || v != "ok" {
		t.Fatalf("sibling Await = %q, %v", v, err)
	}
	_ = s.Close()
}

func TestAwaitContextEndsFirst(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Isolating)
	d, _ := Async(s, func(n *Node) (int, error) { return 0, blockUntilCancelled(n) })
	ctx, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	if _, err := d.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await = %v", err)
	}
	if d.Node().State().Terminal() {
		t.Fatal("a timed out Await must not cancel the computation")
	}
	_ = s.Close()
	if _, err := d.Await(context.Background()); !cancel.IsCancellation(err) {
		t.Fatalf("Await after Close = %v", err)
	}
}

func TestAwaitCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Isolating)
	s.Cancel(nil)
	d, err := Async(s, func(*Node) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("Async: %v", err)
	}
	if _, err := d.Await(context.Background()); !errors.Is(err, cancel.ErrCancelled) {
		t.Fatalf("Await = %v", err)
	}
	_ = s.Close()
}

func TestAsyncOnClosedScope(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Isolating)
	_ = s.Close()
	if _, err := Async(s, func(*Node) (int, error) { return 1, nil }); !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunOnSwitchesDispatcher(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Propagating, WithScheduler(sched.New()))
	got := make(chan sched.Dispatcher, 1)
	d, _ := Async(s, func(n *Node) (string, error) {
		return RunOn(n, sched.Main, func(c *Node) (string, error) {
			got <- c.Info().Dispatcher
			if c.Info().Parent != n.ID() {
				return "", errors.New("RunOn work is not a child of the caller")
			}
			return "rendered", nil
		})
	}, On(sched.Default))

	v, err := d.Await(context.Background())
	if err != nil || v != "rendered" {
		t.Fatalf("Await = %q, %v", v, err)
	}
	if disp := <-got; disp != sched.Main {
		t.Fatalf("ran on %v, want main", disp)
	}
	_ = s.Close()
}

func TestRunOnSameDispatcherRunsInline(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Isolating)
	d, _ := Async(s, func(n *Node) (bool, error) {
		return RunOn(n, sched.Main, func(c *Node) (bool, error) { return c == n, nil })
	}, On(sched.Main))
	if inline, err := d.Await(context.Background()); err != nil || !inline {
		t.Fatalf("inline=%v err=%v", inline, err)
	}
	_ = s.Close()
}

func TestRunOnCancelledWithCaller(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Isolating)
	entered := make(chan struct{})
	d, _ := Async(s, func(n *Node) (int, error) {
		return RunOn(n, sched.IO, func(c *Node) (int, error) {
			close(entered)
			return 0, blockUntilCancelled(c)
		})
	}, On(sched.Default))
	<-entered
	d.Node().Cancel(errors.New("user left"))
	if _, err := d.Await(context.Background()); !cancel.IsCancellation(err) {
		t.Fatalf("Await = %v", err)
	}
	if st := d.Node().State(); st != Cancelled {
		t.Fatalf("caller state = %v", st)
	}
	_ = s.Close()
}
