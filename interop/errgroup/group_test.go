package errgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	xerrgroup "golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-flowscope/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWithContextHappy(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	g.Go(func() error { return nil })
	g.Go(func() error { time.Sleep(10 * time.Millisecond); return nil })
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithContextErrorCancels(t *testing.T) {
	t.Parallel()
	g, gctx := WithContext(context.Background())
	done := make(chan struct{})
	boom := errors.New("boom")
	g.Go(func() error { return boom })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			close(done)
			return nil
		case <-time.After(250 * time.Millisecond):
			return errors.New("expected cancel propagation")
		}
	})
	if err := g.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want boom", err)
	}
	select {
	case <-done:
	case <-time.After(150 * time.Millisecond):
		t.Fatal("ctx was not canceled")
	}
}

func TestWithContextParentDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g, gctx := WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	if err := g.Wait(); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWithContextParentCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	cancel()
	if err := g.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitCancelsContext(t *testing.T) {
	t.Parallel()
	g, gctx := WithContext(context.Background())
	g.Go(func() error { return nil })
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	select {
	case <-gctx.Done():
	default:
		t.Fatal("context still live after Wait")
	}
}

func TestScopeOptionsApply(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background(), scope.WithMaxConcurrency(2))
	var cur, maxSeen atomic.Int64
	for range 10 {
		g.Go(func() error {
			c := cur.Add(1)
			defer cur.Add(-1)
			if m := maxSeen.Load(); c > m {
				maxSeen.CompareAndSwap(m, c)
			}
			time.Sleep(2 * time.Millisecond)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if m := maxSeen.Load(); m > 2 {
		t.Fatalf("observed concurrency %d exceeds limit 2", m)
	}
}

// TestParityWithXErrgroup runs the same scenarios through this package and
// golang.org/x/sync/errgroup and expects the same outcome.
func TestParityWithXErrgroup(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	scenarios := []struct {
		name  string
		tasks func(ctx context.Context) []func() error
		want  error
	}{
		{
			name: "all succeed",
			tasks: func(context.Context) []func() error {
				return []func() error{
					func() error { return nil },
					func() error { return nil },
				}
			},
		},
		{
			name: "first error wins and cancels the rest",
			tasks: func(ctx context.Context) []func() error {
				return []func() error{
					func() error { return boom },
					func() error {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(time.Second):
							return errors.New("not cancelled")
						}
					},
				}
			},
			want: boom,
		},
		{
			name: "canceled error from an unrelated context fails the group",
			tasks: func(ctx context.Context) []func() error {
				return []func() error{
					func() error {
						other, stop := context.WithCancel(context.Background())
						stop()
						return other.Err()
					},
					func() error {
						select {
						case <-ctx.Done():
							return nil
						case <-time.After(time.Second):
							return errors.New("not cancelled")
						}
					},
				}
			},
			want: context.Canceled,
		},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			xg, xctx := xerrgroup.WithContext(context.Background())
			for _, f := range sc.tasks(xctx) {
				xg.Go(f)
			}
			xerr := xg.Wait()

			g, gctx := WithContext(context.Background())
			for _, f := range sc.tasks(gctx) {
				g.Go(f)
			}
			err := g.Wait()

			if !errors.Is(xerr, sc.want) || !errors.Is(err, sc.want) {
				t.Fatalf("x/sync errgroup = %v, scope group = %v, want %v", xerr, err, sc.want)
			}
			if (xerr == nil) != (err == nil) {
				t.Fatalf("x/sync errgroup = %v, scope group = %v", xerr, err)
			}
		})
	}
}

func TestEveryFunctionRunsAfterFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	run := func(goFn func(func() error), wait func() error) (int64, error) {
		var ran atomic.Int64
		goFn(func() error { return boom })
		for range 20 {
			goFn(func() error {
				ran.Add(1)
				return nil
			})
		}
		err := wait()
		return ran.Load(), err
	}

	xg, _ := xerrgroup.WithContext(context.Background())
	xran, xerr := run(xg.Go, xg.Wait)

	g, _ := WithContext(context.Background(), scope.WithMaxConcurrency(1))
	ran, err := run(g.Go, g.Wait)

	if xran != 20 || ran != 20 {
		t.Fatalf("x/sync errgroup ran %d, scope group ran %d, want 20", xran, ran)
	}
	if !errors.Is(xerr, boom) || !errors.Is(err, boom) {
		t.Fatalf("x/sync errgroup = %v, scope group = %v", xerr, err)
	}
}

func TestWaitIgnoresParentCancelWhenAllSucceed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	xg, _ := xerrgroup.WithContext(ctx)
	xg.Go(func() error { return nil })
	g, _ := WithContext(ctx)
	g.Go(func() error { return nil })

	if xerr, err := xg.Wait(), g.Wait(); xerr != nil || err != nil {
		t.Fatalf("x/sync errgroup = %v, scope group = %v, want nil", xerr, err)
	}
}
