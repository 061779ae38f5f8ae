package main

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-flowscope/scope"
)

func newZombieCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "zombie",
		Short: "Show that loops stop with their scope, and what happens when they never check",
		RunE: func(*cobra.Command, []string) error {
			a.section("cooperative loop")
			a.tickingLoop()
			a.section("loop without suspension points")
			a.busyLoop()
			return nil
		},
	}
}

func (a *app) tickingLoop() {
	s := scope.New(context.Background(), scope.Propagating, a.scopeOptions("ticker")...)
	var ticks atomic.Int64
	_ = s.Go(func(ctx context.Context) error {
		t := time.NewTicker(10 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				ticks.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	time.Sleep(35 * time.Millisecond)
	s.Cancel(errors.New("stop"))
	_ = s.Wait()
	a.printf("loop terminated after %d ticks, live nodes: %d\n", ticks.Load(), s.LiveCount())
	_ = s.Close()
}

// busyLoop runs work that never looks at its token. Cancellation is only a
// request, so Close has to wait for the loop to finish on its own.
func (a *app) busyLoop() {
	s := scope.New(context.Background(), scope.Propagating, a.scopeOptions("busy")...)
	var iterations atomic.Int64
	_, _ = s.Launch(func(*scope.Node) error {
		deadline := time.Now().Add(60 * time.Millisecond)
		for time.Now().Before(deadline) {
			iterations.Add(1)
		}
		return nil
	}, scope.Named("busy"))

	start := time.Now()
	time.Sleep(5 * time.Millisecond)
	_ = s.Close()
	a.printf("close returned after %s; the loop ran %d iterations to its end\n",
		time.Since(start).Round(10*time.Millisecond), iterations.Load())
}
