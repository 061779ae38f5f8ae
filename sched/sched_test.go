package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMainIsSerializedFIFO(t *testing.T) {
	t.Parallel()
	s := New()
	var (
		mu    sync.Mutex
		order []int
		cur   atomic.Int32
		maxC  atomic.Int32
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		s.Dispatch(context.Background(), Main, func() {
			defer wg.Done()
			c := cur.Add(1)
			if c > maxC.Load() {
				maxC.Store(c)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			cur.Add(-1)
		})
	}
	wg.Wait()
	if maxC.Load() != 1 {
		t.Fatalf("main ran %d functions at once", maxC.Load())
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("main order %v", order)
		}
	}
}

func TestPoolBoundsParallelism(t *testing.T) {
	t.Parallel()
	const n = 3
	s := New(WithDefaultWorkers(n))
	var cur, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		s.Dispatch(context.Background(), Default, func() {
			defer wg.Done()
			c := cur.Add(1)
			for {
				m := maxSeen.Load()
				if c <= m || maxSeen.CompareAndSwap(m, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		})
	}
	wg.Wait()
	if got := maxSeen.Load(); got > n {
		t.Fatalf("observed %d concurrent workers, limit %d", got, n)
	}
}

func TestQueuedFunctionRunsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(WithIOWorkers(1))
	block := make(chan struct{})
	s.Dispatch(context.Background(), IO, func() { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	s.Dispatch(ctx, IO, func() { close(ran) })
	cancel()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("cancelled queued function never ran")
	}
	close(block)
	waitIdle(t, s)
}

func TestUnconfinedRunsEverything(t *testing.T) {
	t.Parallel()
	s := New()
	const n = 100
	release := make(chan struct{})
	var started sync.WaitGroup
	var done sync.WaitGroup
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		s.Dispatch(context.Background(), Unconfined, func() {
			defer done.Done()
			started.Done()
			<-release
		})
	}
	started.Wait()
	close(release)
	done.Wait()
}

func TestStatsReportsPools(t *testing.T) {
	t.Parallel()
	s := New(WithDefaultWorkers(2), WithIOWorkers(5))
	stats := s.Stats()
	if len(stats) != len(Dispatchers()) {
		t.Fatalf("expected %d entries, got %d", len(Dispatchers()), len(stats))
	}
	for _, st := range stats {
		switch st.Dispatcher {
		case Default:
			if st.Workers != 2 {
				t.Fatalf("default workers = %d", st.Workers)
			}
		case IO:
			if st.Workers != 5 {
				t.Fatalf("io workers = %d", st.Workers)
			}
		case Main:
			if st.Workers != 1 {
				t.Fatalf("main workers = %d", st.Workers)
			}
		}
	}
}

func TestParseDispatcher(t *testing.T) {
	t.Parallel()
	for _, d := range Dispatchers() {
		got, err := ParseDispatcher(d.String())
		if err != nil || got != d {
			t.Fatalf("ParseDispatcher(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := ParseDispatcher("gpu"); err == nil {
		t.Fatal("expected error for unknown dispatcher")
	}
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		busy := false
		for _, st := range s.Stats() {
			if st.Running > 0 || st.Queued > 0 {
				busy = true
			}
		}
		if !busy {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("scheduler did not go idle")
}
