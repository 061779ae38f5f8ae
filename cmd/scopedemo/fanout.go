package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-flowscope/scope"
	"github.com/NetPo4ki/go-flowscope/sched"
)

type page struct {
	profile string
	history int
	recs    []string
}

func newFanoutCmd(a *app) *cobra.Command {
	var (
		budget  time.Duration
		failRec string
	)
	cmd := &cobra.Command{
		Use:   "fanout",
		Short: "Aggregate a page from critical and best-effort sub-requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), budget)
			defer cancel()
			p, err := a.loadPage(ctx, "u-123", failRec)
			if err != nil {
				a.printf("page failed: %v\n", err)
				return nil
			}
			a.printf("profile=%s history=%d recs=%v\n", p.profile, p.history, p.recs)
			return nil
		},
	}
	cmd.Flags().DurationVar(&budget, "budget", 200*time.Millisecond, "time budget for the whole page")
	cmd.Flags().StringVar(&failRec, "fail-category", "", "make recommendations for this category fail")
	return cmd
}

// fetch simulates a remote call that takes d.
func fetch[T any](n *scope.Node, d time.Duration, v T) (T, error) {
	if err := n.Sleep(d); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// loadPage fetches the profile and history under a Propagating scope: either
// failing fails the page. Recommendations run in an Isolating child scope
// with bounded concurrency, so a failed category is simply left out. The
// page itself is assembled on Main once everything has arrived.
func (a *app) loadPage(ctx context.Context, uid, failRec string) (page, error) {
	s := scope.New(ctx, scope.Propagating, a.scopeOptions("page")...)

	profile, err := scope.Async(s, func(n *scope.Node) (string, error) {
		return fetch(n, 30*time.Millisecond, uid)
	}, scope.Named("profile"))
	if err != nil {
		_ = s.Close()
		return page{}, err
	}
	history, err := scope.Async(s, func(n *scope.Node) (int, error) {
		return fetch(n, 40*time.Millisecond, 7)
	}, scope.Named("history"))
	if err != nil {
		_ = s.Close()
		return page{}, err
	}

	recScope := s.Child(scope.Isolating, scope.WithName("recommendations"), scope.WithMaxConcurrency(2))
	var (
		mu   sync.Mutex
		recs []string
	)
	for _, cat := range []string{"news", "music", "sports", "tech"} {
		_, _ = recScope.Launch(func(n *scope.Node) error {
			if cat == failRec {
				return fmt.Errorf("no recommendations for %s", cat)
			}
			v, err := fetch(n, 30*time.Millisecond, "rec-"+cat)
			if err != nil {
				return err
			}
			mu.Lock()
			recs = append(recs, v)
			mu.Unlock()
			return nil
		}, scope.Named("rec "+cat), scope.On(sched.IO))
	}

	render, err := scope.Async(s, func(n *scope.Node) (page, error) {
		prof, err := profile.Await(n.Context())
		if err != nil {
			return page{}, err
		}
		hist, err := history.Await(n.Context())
		if err != nil {
			return page{}, err
		}
		if err := recScope.Wait(); err != nil {
			a.log.Warn("recommendations degraded", "err", err)
		}
		return scope.RunOn(n, sched.Main, func(*scope.Node) (page, error) {
			mu.Lock()
			defer mu.Unlock()
			return page{profile: prof, history: hist, recs: slices.Clone(recs)}, nil
		})
	}, scope.Named("render"), scope.On(sched.Default))
	if err != nil {
		_ = s.Close()
		return page{}, err
	}

	p, err := render.Await(context.Background())
	// Close also reports the recommendation failures logged above.
	_ = s.Close()
	if err != nil {
		return page{}, err
	}
	return p, nil
}
