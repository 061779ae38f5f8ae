package cancel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCancelTransitionsOnce(t *testing.T) {
	t.Parallel()
	tok := New()
	if tok.IsCancelled() {
		t.Fatal("new token is cancelled")
	}
	if !tok.Cancel(errors.New("first")) {
		t.Fatal("first Cancel should report the transition")
	}
	if tok.Cancel(errors.New("second")) {
		t.Fatal("second Cancel should be a no-op")
	}
	if got := tok.Reason().Error(); got != "first" {
		t.Fatalf("reason = %q, want first", got)
	}
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestConcurrentCancelSingleWinner(t *testing.T) {
	t.Parallel()
	tok := New()
	var wins atomic.Int32
	var fired atomic.Int32
	tok.OnCancel(func(error) { fired.Add(1) })
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.Cancel(nil) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || fired.Load() != 1 {
		t.Fatalf("wins=%d fired=%d, want 1 and 1", wins.Load(), fired.Load())
	}
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	t.Parallel()
	tok := New()
	var order []int
	for i := 0; i < 5; i++ {
		tok.OnCancel(func(error) { order = append(order, i) })
	}
	tok.Cancel(nil)
	for i, v := range order {
		if v != i {
			t.Fatalf("callback order %v", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 callbacks, got %d", len(order))
	}
}

func TestOnCancelAfterCancelRunsImmediately(t *testing.T) {
	t.Parallel()
	tok := New()
	cause := errors.New("gone")
	tok.Cancel(cause)
	var got error
	tok.OnCancel(func(r error) { got = r })
	if got != cause {
		t.Fatalf("late callback got %v, want %v", got, cause)
	}
}

func TestUnregisterPreventsCallback(t *testing.T) {
	t.Parallel()
	tok := New()
	called := false
	unregister := tok.OnCancel(func(error) { called = true })
	unregister()
	tok.Cancel(nil)
	if called {
		t.Fatal("unregistered callback ran")
	}
}

func TestChildCancelledBeforeParentCallbacks(t *testing.T) {
	t.Parallel()
	parent := New()
	child := parent.Child()
	grandchild := child.Child()
	var order []string
	parent.OnCancel(func(error) { order = append(order, "parent") })
	child.OnCancel(func(error) { order = append(order, "child") })
	grandchild.OnCancel(func(error) { order = append(order, "grandchild") })

	parent.Cancel(nil)
	want := []string{"grandchild", "child", "parent"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChildCancelDoesNotAffectParent(t *testing.T) {
	t.Parallel()
	parent := New()
	child := parent.Child()
	child.Cancel(nil)
	if parent.IsCancelled() {
		t.Fatal("cancelling the child cancelled the parent")
	}
}

func TestChildOfCancelledStartsCancelled(t *testing.T) {
	t.Parallel()
	parent := New()
	cause := errors.New("closed")
	parent.Cancel(cause)
	child := parent.Child()
	if !child.IsCancelled() || child.Reason() != cause {
		t.Fatalf("child cancelled=%v reason=%v", child.IsCancelled(), child.Reason())
	}
}

func TestDetachStopsPropagation(t *testing.T) {
	t.Parallel()
	parent := New()
	child := parent.Child()
	child.Detach()
	parent.Cancel(nil)
	if child.IsCancelled() {
		t.Fatal("detached child observed parent cancellation")
	}
}

func TestErrMatchesSentinelAndReason(t *testing.T) {
	t.Parallel()
	tok := New()
	if tok.Err() != nil {
		t.Fatal("live token has Err")
	}
	cause := errors.New("shutdown")
	tok.Cancel(cause)
	err := tok.Err()
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, cause) {
		t.Fatalf("Err() = %v should match ErrCancelled and cause", err)
	}
	if !IsCancellation(err) {
		t.Fatal("IsCancellation should accept token errors")
	}
	if !IsCancellation(context.Canceled) {
		t.Fatal("IsCancellation should accept context.Canceled")
	}
	if IsCancellation(errors.New("boom")) {
		t.Fatal("IsCancellation accepted a domain error")
	}
}

func TestSleepInterruptedByCancel(t *testing.T) {
	t.Parallel()
	tok := New()
	time.AfterFunc(10*time.Millisecond, func() { tok.Cancel(nil) })
	start := time.Now()
	err := tok.Sleep(time.Second)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Sleep returned %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("Sleep did not return promptly on cancel")
	}
	if err := New().Sleep(time.Millisecond); err != nil {
		t.Fatalf("uncancelled Sleep returned %v", err)
	}
}

func TestContextFollowsToken(t *testing.T) {
	t.Parallel()
	tok := New()
	ctx := tok.Context()
	if ctx.Err() != nil {
		t.Fatal("context cancelled early")
	}
	cause := errors.New("stop")
	tok.Cancel(cause)
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("context not cancelled")
	}
	if !errors.Is(context.Cause(ctx), cause) {
		t.Fatalf("cause = %v", context.Cause(ctx))
	}
}

// Work that never reaches a check point cannot be interrupted; it runs to
// completion even though the token was cancelled long before.
func TestCooperativeCancellationOnly(t *testing.T) {
	t.Parallel()
	tok := New()
	started := make(chan struct{})
	finished := make(chan int)
	go func() {
		close(started)
		sum := 0
		deadline := time.Now().Add(30 * time.Millisecond)
		for time.Now().Before(deadline) {
			sum++
		}
		finished <- sum
	}()
	<-started
	tok.Cancel(nil)
	select {
	case n := <-finished:
		if n == 0 {
			t.Fatal("busy loop did not run")
		}
	case <-time.After(time.Second):
		t.Fatal("busy loop never finished")
	}
}
