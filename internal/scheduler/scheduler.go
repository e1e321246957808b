// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package scheduler runs tasks at a fixed rate on a small worker pool.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval = time.Minute
	DefaultPoolSize = 2
)

type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	PoolSize int           `mapstructure:"pool_size"`
}

type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(context.Context) error
}

func (f funcTask) Name() string                  { return f.name }
func (f funcTask) Run(ctx context.Context) error { return f.fn(ctx) }

// NewTask wraps fn as a Task.
func NewTask(name string, fn func(context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}

type entry struct {
	task    Task
	nextRun time.Time
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].nextRun.Before(h[j].nextRun) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// Scheduler starts each task as soon as Run begins and then once per
// interval, measured from the previous scheduled start. A task is never
// run concurrently with itself; a run that overruns its interval delays
// the next one instead.
type Scheduler struct {
	interval time.Duration
	poolSize int

	mu       sync.Mutex
	heap     entryHeap
	wakeupCh chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	return &Scheduler{
		interval: cfg.Interval,
		poolSize: cfg.PoolSize,
		heap:     make(entryHeap, 0),
		wakeupCh: make(chan struct{}, 1),
	}
}

// Schedule registers task to run immediately and then every interval.
func (s *Scheduler) Schedule(task Task) {
	s.push(&entry{task: task, nextRun: time.Now()})
}

// ScheduleDeferred registers task to first run one interval from now, for
// callers that have already run it once themselves.
func (s *Scheduler) ScheduleDeferred(task Task) {
	s.push(&entry{task: task, nextRun: time.Now().Add(s.interval)})
}

// Run dispatches due tasks to the worker pool until ctx is done. In-flight
// tasks are waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	work := make(chan *entry)
	var wg sync.WaitGroup
	for range s.poolSize {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range work {
				s.perform(ctx, e)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	slog.Info("Scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("poolSize", s.poolSize))

	for {
		for e := s.popReady(); e != nil; e = s.popReady() {
			select {
			case work <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var timer *time.Timer
		var wait <-chan time.Time
		if next, ok := s.nextWakeup(); ok {
			timer = time.NewTimer(time.Until(next))
			wait = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wakeupCh:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) perform(ctx context.Context, e *entry) {
	if err := e.task.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Scheduled task failed",
			slog.String("task", e.task.Name()),
			slog.Any("error", err))
	}

	next := e.nextRun.Add(s.interval)
	if now := time.Now(); next.Before(now) {
		next = now
	}
	e.nextRun = next
	s.push(e)
}

func (s *Scheduler) push(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heap.Push(&s.heap, e)
	s.signalWakeup()
}

func (s *Scheduler) popReady() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heap.Len() == 0 {
		return nil
	}
	if time.Now().Before(s.heap[0].nextRun) {
		return nil
	}
	return heap.Pop(&s.heap).(*entry)
}

func (s *Scheduler) nextWakeup() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heap.Len() == 0 {
		return time.Time{}, false
	}
	return s.heap[0].nextRun, true
}

func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeupCh <- struct{}{}:
	default:
	}
}
