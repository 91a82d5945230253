package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/wx-shi/utxo-ledger/internal/model"
)

func TestSlidingWindow(t *testing.T) {
	clk := clock.NewMock()
	l := New(2, time.Minute, clk)

	if err := l.Allow("alice"); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	clk.Add(10 * time.Second)
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("second call rejected: %v", err)
	}

	err := l.Allow("alice")
	if !errors.Is(err, model.ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	if limitErr.RetryAfter != 50*time.Second {
		t.Fatalf("expected retry after 50s, got %s", limitErr.RetryAfter)
	}

	// other addresses have their own window
	if err := l.Allow("bob"); err != nil {
		t.Fatalf("bob rejected: %v", err)
	}

	// the first stamp leaves the window after exactly one minute
	clk.Add(50 * time.Second)
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("call after window rejected: %v", err)
	}
	if err := l.Allow("alice"); err == nil {
		t.Fatal("window should be full again")
	}

	clk.Add(time.Minute)
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("call after full window rejected: %v", err)
	}
}

func TestRejectedCallsAreNotRecorded(t *testing.T) {
	clk := clock.NewMock()
	l := New(1, time.Second, clk)

	if err := l.Allow("alice"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		clk.Add(100 * time.Millisecond)
		if err := l.Allow("alice"); err == nil {
			t.Fatal("expected rejection")
		}
	}
	clk.Add(500 * time.Millisecond)
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("rejected calls extended the window: %v", err)
	}
}

func TestDisabled(t *testing.T) {
	l := New(0, time.Minute, clock.NewMock())
	for i := 0; i < 100; i++ {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("disabled limiter rejected call %d: %v", i, err)
		}
	}
}

func TestForgetAndPrune(t *testing.T) {
	clk := clock.NewMock()
	l := New(1, time.Minute, clk)

	_ = l.Allow("alice")
	_ = l.Allow("bob")
	l.Forget("alice")
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("forgotten address rejected: %v", err)
	}

	clk.Add(30 * time.Second)
	_ = l.Allow("carol")
	clk.Add(30 * time.Second)
	if n := l.Prune(); n != 1 {
		t.Fatalf("expected 1 tracked address after prune, got %d", n)
	}
	if err := l.Allow("carol"); err == nil {
		t.Fatal("prune dropped a live window")
	}
}

func TestPrunedWindowIsNotReused(t *testing.T) {
	clk := clock.NewMock()
	l := New(2, time.Minute, clk)

	// a caller that looked up the window just before it was pruned
	stale := l.window("alice")
	if n := l.Prune(); n != 0 {
		t.Fatalf("expected empty window to be pruned, %d tracked", n)
	}
	if live, err := l.admit(stale, "alice"); live || err != nil {
		t.Fatalf("pruned window admitted a submission: live=%v err=%v", live, err)
	}

	for i := 0; i < 2; i++ {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("call %d rejected: %v", i, err)
		}
	}
	if err := l.Allow("alice"); !errors.Is(err, model.ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}

	l.Forget("alice")
	if live, _ := l.admit(stale, "alice"); live {
		t.Fatal("forgotten window still records")
	}
}

func TestRunPrunesIdleWindows(t *testing.T) {
	clk := clock.NewMock()
	l := New(1, time.Minute, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Run(ctx)

	if err := l.Allow("alice"); err != nil {
		t.Fatal(err)
	}
	if n := l.Tracked(); n != 1 {
		t.Fatalf("expected 1 tracked address, got %d", n)
	}
	clk.Add(time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for l.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle window was never pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConcurrentAllow(t *testing.T) {
	l := New(10, time.Hour, clock.NewMock())

	var (
		wg       sync.WaitGroup
		admitted int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("alice") == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != 10 {
		t.Fatalf("expected exactly 10 admissions, got %d", admitted)
	}
}
