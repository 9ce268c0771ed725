package clock

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is an (interval, handler) pair registered with the Scheduler.
// Handlers must be non-blocking relative to their own period: if a handler
// is still running when its next tick fires, the tick is skipped and
// MissedTicks increments rather than queuing a backlog.
type Task struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context)
}

type taskState struct {
	task    Task
	running int32
	missed  int64
}

// Scheduler drives any number of independently-timed tasks off one shared
// cancellation context, the way the reference scheduler drives its
// scan/snapshot/performance tickers off one Run loop — generalized here so
// the set of tickers is built dynamically instead of fixed to three.
type Scheduler struct {
	clk   Clock
	mu    sync.Mutex
	tasks []*taskState

	skewMu       sync.Mutex
	skewWatchers []func()
	skewLast     time.Time
}

// New creates a Scheduler using clk as its time source for skew detection.
func New(clk Clock) *Scheduler {
	return &Scheduler{clk: clk, skewLast: clk.Now()}
}

// Register adds a task. Run starts only the tasks registered before it is
// called; a task registered after Run has started is not run.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &taskState{task: t})
}

// OnClockSkew registers a callback invoked when the wall clock is observed
// to have moved backward by more than one second. The scheduler itself does
// not know what a "highwater mark" is; callers reset their own state.
func (s *Scheduler) OnClockSkew(fn func()) {
	s.skewMu.Lock()
	defer s.skewMu.Unlock()
	s.skewWatchers = append(s.skewWatchers, fn)
}

// MissedTicks returns the total number of skipped ticks across all tasks,
// for status reporting.
func (s *Scheduler) MissedTicks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, ts := range s.tasks {
		total += atomic.LoadInt64(&ts.missed)
	}
	return total
}

// Run starts every registered task's ticker and a skew watchdog, and blocks
// until ctx is cancelled. A single stop token (ctx) is observed between
// iterations of every task, matching the spec's cancellation model.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]*taskState(nil), s.tasks...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ts := range tasks {
		wg.Add(1)
		go func(ts *taskState) {
			defer wg.Done()
			s.runTask(ctx, ts)
		}(ts)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runSkewWatchdog(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runTask(ctx context.Context, ts *taskState) {
	ticker := time.NewTicker(ts.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&ts.running, 0, 1) {
				atomic.AddInt64(&ts.missed, 1)
				slog.Warn("scheduler tick skipped: previous run still in flight", "task", ts.task.Name)
				continue
			}
			func() {
				defer atomic.StoreInt32(&ts.running, 0)
				ts.task.Handler(ctx)
			}()
		}
	}
}

func (s *Scheduler) runSkewWatchdog(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkSkew()
		}
	}
}

func (s *Scheduler) checkSkew() {
	s.skewMu.Lock()
	now := s.clk.Now()
	last := s.skewLast
	s.skewLast = now
	watchers := append([]func(){}, s.skewWatchers...)
	s.skewMu.Unlock()

	if now.Before(last.Add(-time.Second)) {
		slog.Warn("clock skew detected: wall clock moved backward", "previous", last, "now", now)
		for _, fn := range watchers {
			fn()
		}
	}
}
