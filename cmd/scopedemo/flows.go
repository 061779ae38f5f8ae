package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-flowscope/broadcast"
	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/scope"
)

func newFlowsCmd(a *app) *cobra.Command {
	var tick time.Duration
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Compare eager, lazy, while-subscribed, state and cold streams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tick <= 0 {
				return fmt.Errorf("--tick must be positive, got %s", tick)
			}
			s := scope.New(cmd.Context(), scope.Propagating, a.scopeOptions("flows")...)
			d := &flowsDemo{app: a, sc: s, tick: tick, grace: a.cfg.Broadcast.GracePeriod}
			err := d.run()
			if cerr := s.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&tick, "tick", 20*time.Millisecond, "interval between counter emissions")
	return cmd
}

type flowsDemo struct {
	*app
	sc    *scope.Scope
	tick  time.Duration
	grace time.Duration
}

// counter emits c+1 every tick. c is shared between runs, so a restarted
// producer continues where the previous run stopped.
func counter(c *atomic.Int64, tick time.Duration) broadcast.Producer[int64] {
	return func(tok cancel.Signal, emit func(int64)) error {
		for {
			if err := tok.Sleep(tick); err != nil {
				return err
			}
			emit(c.Add(1))
		}
	}
}

func (d *flowsDemo) run() error {
	for _, step := range []func() error{d.eager, d.whileSubscribed, d.lazily, d.cold, d.latest} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// first waits for the next value of sub, bounded by a few ticks.
func (d *flowsDemo) first(sub *broadcast.Subscription[int64]) (int64, error) {
	ctx, stop := context.WithTimeout(d.sc.Context(), 50*d.tick)
	defer stop()
	return sub.Next(ctx)
}

func (d *flowsDemo) eager() error {
	d.section("eager broadcaster mirrored into a state holder")
	state, err := broadcast.NewState(int64(0), d.broadcastOptions("eager mirror")...)
	if err != nil {
		return err
	}
	var c atomic.Int64
	count := counter(&c, d.tick)
	b, err := broadcast.New(d.sc, broadcast.Eager(), func(tok cancel.Signal, emit func(int64)) error {
		return count(tok, func(v int64) {
			emit(v)
			state.Set(v)
		})
	}, d.broadcastOptions("eager", broadcast.WithInitial(int64(0)))...)
	if err != nil {
		return err
	}

	d.printf("producer %s with %d subscribers\n", b.ProducerState(), b.Subscribers())
	time.Sleep(3 * d.tick)
	sub := b.Subscribe()
	v, err := d.first(sub)
	sub.Unsubscribe()
	if err != nil {
		return err
	}
	d.printf("late subscriber starts from the cached value %d\n", v)
	d.printf("state holder reads %d\n", state.Value())
	return nil
}

func (d *flowsDemo) whileSubscribed() error {
	d.section("while subscribed")
	var c atomic.Int64
	b, err := broadcast.New(d.sc, broadcast.WhileSubscribed(d.grace), counter(&c, d.tick),
		d.broadcastOptions("while subscribed", broadcast.WithInitial(int64(0)))...)
	if err != nil {
		return err
	}
	d.printf("before subscribing: producer %s\n", b.ProducerState())

	sub := b.Subscribe()
	d.printf("subscribed: producer %s\n", b.ProducerState())
	for range 3 {
		if _, err := d.first(sub); err != nil {
			return err
		}
	}
	sub.Unsubscribe()
	d.printf("unsubscribed, grace %s: producer %s\n", d.grace, b.ProducerState())

	time.Sleep(d.grace + 3*d.tick)
	last, _ := b.Value()
	d.printf("grace expired: producer %s, cached %d\n", b.ProducerState(), last)

	sub = b.Subscribe()
	v, err := d.first(sub)
	if err != nil {
		return err
	}
	d.printf("resubscribed: producer %s, first value %d\n", b.ProducerState(), v)
	sub.Unsubscribe()
	return nil
}

func (d *flowsDemo) lazily() error {
	d.section("lazily")
	var c atomic.Int64
	b, err := broadcast.New(d.sc, broadcast.Lazily(), counter(&c, d.tick), d.broadcastOptions("lazily")...)
	if err != nil {
		return err
	}
	time.Sleep(2 * d.tick)
	d.printf("no subscriber yet: producer %s\n", b.ProducerState())
	sub := b.Subscribe()
	if _, err := d.first(sub); err != nil {
		return err
	}
	sub.Unsubscribe()
	time.Sleep(2 * d.tick)
	d.printf("after the only subscriber left: producer %s\n", b.ProducerState())
	return nil
}

// cold runs two collectors against a stream whose producer starts from 1 on
// every run.
func (d *flowsDemo) cold() error {
	d.section("cold")
	stream, err := broadcast.NewCold(func(tok cancel.Signal, emit func(int64)) error {
		var c atomic.Int64
		return counter(&c, d.tick)(tok, emit)
	}, d.broadcastOptions("cold")...)
	if err != nil {
		return err
	}

	// a cancellation ends a collector without failing the scope
	errEnough := fmt.Errorf("%w: enough values", cancel.ErrCancelled)
	var mu sync.Mutex
	got := map[string][]int64{}
	var nodes []*scope.Node
	for _, name := range []string{"A", "B"} {
		n, err := stream.Collect(d.sc, func(_ cancel.Signal, v int64) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], v)
			if len(got[name]) == 3 {
				return errEnough
			}
			return nil
		})
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		_, _ = n.Join(d.sc.Context())
	}
	d.printf("collector A got %v, collector B got %v, producer runs %d\n", got["A"], got["B"], stream.Runs())
	return nil
}

// latest feeds a consumer that is slower than the producer, so most
// deliveries are superseded before they finish.
func (d *flowsDemo) latest() error {
	d.section("latest wins")
	var c atomic.Int64
	b, err := broadcast.New(d.sc, broadcast.Lazily(), counter(&c, d.tick), d.broadcastOptions("fast")...)
	if err != nil {
		return err
	}
	var completed, superseded atomic.Int64
	loop, err := b.Collect(d.sc, func(tok cancel.Signal, _ int64) error {
		err := tok.Sleep(3 * d.tick)
		switch {
		case err == nil:
			completed.Add(1)
		case errors.Is(err, broadcast.ErrSuperseded):
			superseded.Add(1)
		}
		return err
	}, scope.Named("slow consumer"))
	if err != nil {
		return err
	}
	time.Sleep(10 * d.tick)
	loop.Cancel(errors.New("demo over"))
	_, _ = loop.Join(context.Background())
	d.printf("slow consumer: %d superseded, %d completed\n", superseded.Load(), completed.Load())
	return nil
}
