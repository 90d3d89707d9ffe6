package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errFail = errors.New("induced failure")

func waitForStats(t *testing.T, m *Manager, pred func(Stats) bool, timeout time.Duration) Stats {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		s := m.Stats()
		if pred(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for stats condition, last stats: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	m := New(2, 0)
	defer m.Close()

	var ran atomic.Bool
	m.Submit(&Task{ID: "t1", Timeout: time.Second, Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})

	waitForStats(t, m, func(s Stats) bool { return s.Completed == 1 }, 2*time.Second)
	if !ran.Load() {
		t.Fatal("expected task to have run")
	}
}

func TestPriorityOrderingHigherFirst(t *testing.T) {
	m := New(1, 0)
	defer m.Close()

	var mu sync.Mutex
	var order []int
	block := make(chan struct{})
	m.Submit(&Task{ID: "blocker", Priority: 100, Timeout: time.Second, Run: func(ctx context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(20 * time.Millisecond) // ensure blocker claimed the single slot first

	m.Submit(&Task{ID: "low", Priority: 1, Timeout: time.Second, Run: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	}})
	m.Submit(&Task{ID: "high", Priority: 9, Timeout: time.Second, Run: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 9)
		mu.Unlock()
		return nil
	}})
	close(block)

	waitForStats(t, m, func(s Stats) bool { return s.Completed == 3 }, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 9 || order[1] != 1 {
		t.Fatalf("expected higher priority task to run first, got %v", order)
	}
}

func TestTaskRetriesOnFailureThenSucceeds(t *testing.T) {
	m := New(2, 0)
	defer m.Close()

	var attempts atomic.Int32
	m.Submit(&Task{
		ID: "flaky", Timeout: time.Second, MaxRetries: 3, RetryDelay: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			if attempts.Add(1) < 3 {
				return errFail
			}
			return nil
		},
	})

	waitForStats(t, m, func(s Stats) bool { return s.Completed == 1 }, 2*time.Second)
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestTaskFailsAfterExhaustingRetries(t *testing.T) {
	m := New(2, 0)
	defer m.Close()

	m.Submit(&Task{
		ID: "always-fails", Timeout: time.Second, MaxRetries: 1, RetryDelay: 5 * time.Millisecond,
		Run: func(ctx context.Context) error { return errFail },
	})

	waitForStats(t, m, func(s Stats) bool { return s.Failed == 1 }, 2*time.Second)
}

func TestTaskTimesOutWhenOperationIgnoresDeadline(t *testing.T) {
	m := New(1, 0)
	defer m.Close()

	started := make(chan struct{})
	m.Submit(&Task{
		ID: "slow", Timeout: 20 * time.Millisecond, MaxRetries: 0,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	<-started
	waitForStats(t, m, func(s Stats) bool { return s.TimedOut == 1 }, 2*time.Second)
}

func TestCancelDropsQueuedTask(t *testing.T) {
	m := New(1, 0)
	defer m.Close()

	block := make(chan struct{})
	m.Submit(&Task{ID: "blocker", Timeout: time.Second, Run: func(ctx context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(20 * time.Millisecond)

	ran := make(chan struct{}, 1)
	m.Submit(&Task{ID: "victim", Timeout: time.Second, Run: func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}})
	m.Cancel("victim")
	close(block)

	waitForStats(t, m, func(s Stats) bool { return s.Cancelled == 1 }, 2*time.Second)
	select {
	case <-ran:
		t.Fatal("expected cancelled task to not run")
	case <-time.After(50 * time.Millisecond):
	}
}
