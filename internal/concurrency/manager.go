// Package concurrency implements ConcurrencyManager (spec §4.12): a priority
// queue of tasks with bounded parallelism, cooperative timeouts, and
// retry-with-delay on failure.
//
// The priority queue itself is grounded on container/heap, the standard
// library's idiomatic priority-queue building block; admission pacing reuses
// golang.org/x/time/rate the same way the teacher's internal/server/ratelimit.go
// paces writers, generalized here to pace task dispatch rather than bytes.
package concurrency

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/metrics"
)

// TaskFunc is the cooperative operation a task wraps. It must watch ctx.Done
// to honor a timeout or cancellation; the manager does not forcibly
// interrupt a running task.
type TaskFunc func(ctx context.Context) error

// Task describes a unit of work submitted to the manager.
type Task struct {
	ID         string
	Priority   int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Run        TaskFunc

	attempt    int
	enqueuedAt time.Time
}

// Status is a task's terminal or in-flight state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Stats aggregates counters and timing averages across all tasks the
// manager has ever scheduled.
type Stats struct {
	Running   int
	Pending   int
	Completed int64
	Failed    int64
	Cancelled int64
	TimedOut  int64
	AvgWaitMs float64
	AvgExecMs float64
}

const (
	DefaultMaxRunning = 4
	DefaultTimeout    = 60 * time.Second
	DefaultRetryDelay = 2 * time.Second
)

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Manager runs submitted tasks honoring priority ordering, a bound on
// concurrently running tasks, and per-task retry policy.
type Manager struct {
	maxRunning int
	limiter    *rate.Limiter
	log        *zap.Logger

	mu        sync.Mutex
	queue     taskHeap
	running   int
	cancelled map[string]bool
	stats     Stats
	waitSum   time.Duration
	waitN     int64
	execSum   time.Duration
	execN     int64

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager that runs at most maxRunning tasks concurrently.
// admissionRate, if > 0, caps how many tasks may be dispatched per second
// (burst 1); zero disables admission pacing.
func New(maxRunning int, admissionRate rate.Limit) *Manager {
	if maxRunning <= 0 {
		maxRunning = DefaultMaxRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		maxRunning: maxRunning,
		log:        logging.GetLogger(),
		cancelled:  make(map[string]bool),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	if admissionRate > 0 {
		m.limiter = rate.NewLimiter(admissionRate, 1)
	}
	heap.Init(&m.queue)
	m.wg.Add(1)
	go m.dispatchLoop()
	return m
}

// Close stops the dispatch loop. In-flight tasks are not interrupted.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Submit enqueues a task for execution according to its priority.
func (m *Manager) Submit(t *Task) {
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = DefaultRetryDelay
	}
	t.enqueuedAt = time.Now()

	m.mu.Lock()
	heap.Push(&m.queue, t)
	m.mu.Unlock()
	m.poke()
}

// Cancel marks a queued or running task's ID as cancelled. A queued task is
// dropped before it runs; a running task's ctx is not forcibly cancelled
// here since TaskFunc implementations must cooperate via their own ctx
// plumbing (the manager only short-circuits tasks not yet started).
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	m.cancelled[id] = true
	m.mu.Unlock()
	m.poke()
}

// Stats returns a snapshot of aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Running = m.running
	s.Pending = len(m.queue)
	if m.waitN > 0 {
		s.AvgWaitMs = float64(m.waitSum.Milliseconds()) / float64(m.waitN)
	}
	if m.execN > 0 {
		s.AvgExecMs = float64(m.execSum.Milliseconds()) / float64(m.execN)
	}
	return s
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.drain()
	}
}

func (m *Manager) drain() {
	for {
		t := m.popNextRunnable()
		if t == nil {
			return
		}
		if m.limiter != nil {
			reservation := m.limiter.ReserveN(time.Now(), 1)
			if delay := reservation.Delay(); delay > 0 {
				metrics.RecordRateLimit("admission")
				select {
				case <-time.After(delay):
				case <-m.ctx.Done():
					reservation.Cancel()
					return
				}
			}
		}
		m.wg.Add(1)
		go m.run(t)
	}
}

func (m *Manager) popNextRunnable() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running >= m.maxRunning {
		return nil
	}
	for m.queue.Len() > 0 {
		t := heap.Pop(&m.queue).(*Task)
		if m.cancelled[t.ID] {
			delete(m.cancelled, t.ID)
			m.stats.Cancelled++
			continue
		}
		m.running++
		wait := time.Since(t.enqueuedAt)
		m.waitSum += wait
		m.waitN++
		return t
	}
	return nil
}

func (m *Manager) run(t *Task) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, t.Timeout)
	defer cancel()

	start := time.Now()
	err := t.Run(ctx)
	exec := time.Since(start)

	m.mu.Lock()
	m.running--
	m.execSum += exec
	m.execN++
	wasCancelled := m.cancelled[t.ID]
	delete(m.cancelled, t.ID)
	m.mu.Unlock()

	switch {
	case err == nil:
		m.mu.Lock()
		m.stats.Completed++
		m.mu.Unlock()
	case wasCancelled:
		m.mu.Lock()
		m.stats.Cancelled++
		m.mu.Unlock()
	case ctx.Err() == context.DeadlineExceeded:
		m.mu.Lock()
		m.stats.TimedOut++
		m.mu.Unlock()
		m.maybeRetry(t)
	default:
		m.maybeRetry(t)
	}
	m.poke()
}

func (m *Manager) maybeRetry(t *Task) {
	if t.attempt >= t.MaxRetries {
		m.mu.Lock()
		m.stats.Failed++
		m.mu.Unlock()
		return
	}
	t.attempt++
	delay := t.RetryDelay
	m.log.Debug("retrying task", zap.String("task_id", t.ID), zap.Int("attempt", t.attempt), zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		t.enqueuedAt = time.Now()
		m.mu.Lock()
		heap.Push(&m.queue, t)
		m.mu.Unlock()
		m.poke()
	})
}
