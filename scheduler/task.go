package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

const (
	recentDurationsLimit = 32
	recentErrorsLimit    = 16
)

// Task is one recurring unit of scheduled work. PreExecute and PostExecute
// are optional; Execute is launched concurrently by the tick that pops the
// task. NextFire and heap position are managed by the scheduler.
type Task struct {
	Name   string
	Period time.Duration

	PreExecute  func(ctx context.Context) error
	Execute     func(ctx context.Context) error
	PostExecute func(ctx context.Context, err error)

	Stats *TaskStats

	NextFire time.Time
	index    int
}

// TaskStats accumulates per-task execution statistics: success and error
// counters plus bounded rings of recent execution times and exceptions.
type TaskStats struct {
	mu        sync.Mutex
	success   uint64
	errors    uint64
	durations deque.Deque[time.Duration]
	recent    deque.Deque[error]
}

func NewTaskStats() *TaskStats {
	return &TaskStats{}
}

func (s *TaskStats) RecordSuccess(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.success++
	s.durations.PushBack(elapsed)
	for s.durations.Len() > recentDurationsLimit {
		s.durations.PopFront()
	}
}

func (s *TaskStats) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors++
	s.recent.PushBack(err)
	for s.recent.Len() > recentErrorsLimit {
		s.recent.PopFront()
	}
}

type StatsSnapshot struct {
	Success         uint64
	Errors          uint64
	RecentDurations []time.Duration
	RecentErrors    []error
}

func (s *TaskStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Success:         s.success,
		Errors:          s.errors,
		RecentDurations: make([]time.Duration, s.durations.Len()),
		RecentErrors:    make([]error, s.recent.Len()),
	}
	for i := 0; i < s.durations.Len(); i++ {
		snap.RecentDurations[i] = s.durations.At(i)
	}
	for i := 0; i < s.recent.Len(); i++ {
		snap.RecentErrors[i] = s.recent.At(i)
	}
	return snap
}

// taskHeap is a min-heap keyed by NextFire, earliest first.
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].NextFire.Before(h[j].NextFire) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h taskHeap) peek() *Task {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
