package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(4, 16, zerolog.Nop())
	defer p.Shutdown() // nolint:errcheck

	const n = 100
	var count int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs to complete")
	}

	if got := atomic.LoadInt64(&count); got != n {
		t.Errorf("expected %d jobs run, got %d", n, got)
	}
}

func TestPoolPanicIsolation(t *testing.T) {
	p := New(2, 16, zerolog.Nop())
	defer p.Shutdown() // nolint:errcheck

	var wg sync.WaitGroup
	wg.Add(2)

	var safeRan int64
	p.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	p.Submit(func() {
		defer wg.Done()
		atomic.AddInt64(&safeRan, 1)
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out: a panicking job must not take down the worker")
	}

	if atomic.LoadInt64(&safeRan) != 1 {
		t.Errorf("expected the non-panicking job to still run")
	}
}

func TestPoolDefaultSize(t *testing.T) {
	p := New(0, 4, zerolog.Nop())
	defer p.Shutdown() // nolint:errcheck

	if p.workers <= 0 {
		t.Errorf("expected a positive default worker count, got %d", p.workers)
	}
}

func TestPoolShutdownDrains(t *testing.T) {
	p := New(2, 16, zerolog.Nop())

	var ran int64
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		p.Submit(func() {
			atomic.AddInt64(&ran, 1)
			wg.Done()
		})
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if atomic.LoadInt64(&ran) != 10 {
		t.Errorf("expected Shutdown to drain all 10 queued jobs, got %d", ran)
	}
}
