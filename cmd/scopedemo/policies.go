package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	xerrgroup "golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-flowscope/interop/errgroup"
	"github.com/NetPo4ki/go-flowscope/scope"
)

func newPoliciesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Compare Propagating and Isolating failure policies",
		RunE: func(*cobra.Command, []string) error {
			a.section("propagating")
			a.failingTree(scope.Propagating)
			a.section("isolating")
			a.failingTree(scope.Isolating)
			a.section("interop errgroup")
			a.interopGroup()
			a.section("x/sync errgroup")
			a.xGroup()
			return nil
		},
	}
}

// failingTree runs a parent with two children next to an unrelated sibling.
// One child fails after 20ms.
func (a *app) failingTree(policy scope.Policy) {
	s := scope.New(context.Background(), policy, a.scopeOptions("policies-"+policy.String())...)

	var failing, slow *scope.Node
	launched := make(chan struct{})
	parent, _ := s.Launch(func(n *scope.Node) error {
		failing, _ = n.Launch(func(c *scope.Node) error {
			if err := c.Sleep(20 * time.Millisecond); err != nil {
				return err
			}
			return errors.New("boom")
		}, scope.Named("failing"))
		slow, _ = n.Launch(waitFor(200*time.Millisecond), scope.Named("slow child"))
		close(launched)
		return nil
	}, scope.Named("parent"))
	sibling, _ := s.Launch(waitFor(200*time.Millisecond), scope.Named("sibling"))
	<-launched

	err := s.Wait()
	for _, n := range []*scope.Node{parent, failing, slow, sibling} {
		st, _ := n.Join(context.Background())
		a.printf("%-10s %s\n", n.Name(), st)
	}
	a.printf("result: %v\n", err)
	_ = s.Close()
}

// waitFor returns work that finishes after d unless cancelled first.
func waitFor(d time.Duration) scope.Work {
	return func(n *scope.Node) error {
		return n.Sleep(d)
	}
}

func (a *app) interopGroup() {
	g, ctx := errgroup.WithContext(context.Background(), a.scopeOptions("errgroup")...)
	g.Go(func() error { time.Sleep(20 * time.Millisecond); return errors.New("boom") })
	g.Go(func() error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			a.printf("second task cancelled\n")
			return ctx.Err()
		}
	})
	a.printf("result: %v\n", g.Wait())
}

func (a *app) xGroup() {
	g, ctx := xerrgroup.WithContext(context.Background())
	g.Go(func() error { time.Sleep(20 * time.Millisecond); return errors.New("boom") })
	g.Go(func() error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			a.printf("second task cancelled\n")
			return ctx.Err()
		}
	})
	a.printf("result: %v\n", g.Wait())
}
