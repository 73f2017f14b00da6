package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// poolFactories returns a constructor for each of the three Pool implementations so the
// same behavioral contract is exercised against all of them.
func poolFactories() map[string]func(n int) Pool {
	return map[string]func(n int) Pool{
		"naive": func(n int) Pool { return NewNaive(n) },
		"sharedqueue": func(n int) Pool { return NewSharedQueue(n) },
		"stealing": func(n int) Pool {
			p, err := NewStealing(n)
			if err != nil {
				panic(err)
			}
			return p
		},
	}
}

func TestSpawnRunsJobs(t *testing.T) {
	for name, factory := range poolFactories() {
		t.Run(name, func(t *testing.T) {
			p := factory(4)
			defer p.Shutdown()

			var n atomic.Int64
			var wg sync.WaitGroup
			const jobs = 100
			wg.Add(jobs)
			for i := 0; i < jobs; i++ {
				if err := p.Spawn(func() {
					defer wg.Done()
					n.Add(1)
				}); err != nil {
					t.Fatalf("Spawn failed: %v", err)
				}
			}
			wg.Wait()

			if got := n.Load(); got != jobs {
				t.Errorf("expected %d jobs to run, got %d", jobs, got)
			}
		})
	}
}

func TestSpawnAfterShutdownFails(t *testing.T) {
	for name, factory := range poolFactories() {
		t.Run(name, func(t *testing.T) {
			p := factory(2)
			p.Shutdown()

			if err := p.Spawn(func() {}); err == nil {
				t.Errorf("expected Spawn to fail after Shutdown")
			}
		})
	}
}

func TestSharedQueueSurvivesPanickingJobs(t *testing.T) {
	p := NewSharedQueue(4)
	defer p.Shutdown()

	var completed atomic.Int64
	var wg sync.WaitGroup

	const panicking = 10
	const ok = 90
	wg.Add(panicking + ok)

	for i := 0; i < panicking; i++ {
		if err := p.Spawn(func() {
			defer wg.Done()
			panic("boom")
		}); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}
	for i := 0; i < ok; i++ {
		if err := p.Spawn(func() {
			defer wg.Done()
			completed.Add(1)
		}); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}

	waitOrTimeout(t, &wg, 5*time.Second)

	if got := completed.Load(); got != ok {
		t.Errorf("expected %d non-panicking jobs to complete, got %d", ok, got)
	}

	// Pool should still be at full capacity: another batch of jobs all
	// complete.
	var wg2 sync.WaitGroup
	const more = 20
	var completed2 atomic.Int64
	wg2.Add(more)
	for i := 0; i < more; i++ {
		if err := p.Spawn(func() {
			defer wg2.Done()
			completed2.Add(1)
		}); err != nil {
			t.Fatalf("Spawn after panics failed: %v", err)
		}
	}
	waitOrTimeout(t, &wg2, 5*time.Second)
	if got := completed2.Load(); got != more {
		t.Errorf("expected %d post-panic jobs to complete, got %d", more, got)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for jobs to complete")
	}
}
