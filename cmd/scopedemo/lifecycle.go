package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-flowscope/scope"
)

func newLifecycleCmd(a *app) *cobra.Command {
	var after time.Duration
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Tear work down with an owner, a parent scope or a parent context",
		RunE: func(*cobra.Command, []string) error {
			a.section("owner destroyed")
			a.ownerBound(after)
			a.section("parent scope cancelled")
			a.childScope(after)
			a.section("parent context cancelled")
			a.contextBound(after)
			return nil
		},
	}
	cmd.Flags().DurationVar(&after, "after", 50*time.Millisecond, "delay before the owner or parent goes away")
	return cmd
}

// longTask reports whether it completed or was cancelled.
func (a *app) longTask(label string) scope.Work {
	return func(n *scope.Node) error {
		if err := n.Sleep(150 * time.Millisecond); err != nil {
			a.printf("%s: cancelled (%v)\n", label, n.Token().Reason())
			return err
		}
		a.printf("%s: completed\n", label)
		return nil
	}
}

func (a *app) ownerBound(after time.Duration) {
	owner := scope.NewOwner()
	s := scope.ForOwner(owner, scope.Isolating, a.scopeOptions("view")...)
	_, _ = s.Launch(a.longTask("view task"))

	time.Sleep(after)
	owner.Destroy()
	a.printf("scope closed: %t, live nodes: %d\n", s.Closed(), s.LiveCount())
}

func (a *app) childScope(after time.Duration) {
	parent := scope.New(context.Background(), scope.Isolating, a.scopeOptions("parent")...)
	child := parent.Child(scope.Isolating, scope.WithName("child"))
	_, _ = child.Launch(a.longTask("child task"))

	time.AfterFunc(after, func() { parent.Cancel(errors.New("shutdown")) })
	a.printf("child wait: %v\n", child.Wait())
	_ = parent.Close()
}

func (a *app) contextBound(after time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), after)
	defer cancel()
	s := scope.New(ctx, scope.Isolating, a.scopeOptions("request")...)
	_ = s.Go(func(ctx context.Context) error {
		<-ctx.Done()
		a.printf("request task: %v\n", context.Cause(ctx))
		return ctx.Err()
	})
	a.printf("wait: %v\n", s.Wait())
	_ = s.Close()
}
