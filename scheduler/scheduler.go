package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/helpers"
)

const preExecuteWarnAfter = time.Second

// Scheduler is a time-priority queue of recurring tasks with a bounded number
// of concurrently running ticks. Tick itself is single-writer (the gate); the
// ticks it launches run many task executes concurrently.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap

	tickMu       sync.Mutex
	tickQueue    deque.Deque[*tickHandle]
	maxTickQueue int
	builtFor     int

	gate chan struct{}

	log *logrus.Entry
}

type tickHandle struct {
	done chan struct{}
}

func (h *tickHandle) completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// New builds a scheduler. maxTickQueue <= 0 defaults to the host parallelism
// clamped into [2, 32].
func New(maxTickQueue int) *Scheduler {
	if maxTickQueue <= 0 {
		maxTickQueue = helpers.Clamp(runtime.NumCPU(), 2, 32)
	}
	return &Scheduler{
		maxTickQueue: maxTickQueue,
		builtFor:     maxTickQueue,
		gate:         make(chan struct{}, 1),
		log:          logrus.WithField("component", "scheduler"),
	}
}

// Add enqueues a task. A zero NextFire fires on the next tick.
func (s *Scheduler) Add(t *Task) {
	if t.Stats == nil {
		t.Stats = NewTaskStats()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.tasks, t)
}

// Reschedule is the task's reschedule signal: it moves the task to fire at the
// given time, re-enqueueing it if it is not currently queued.
func (s *Scheduler) Reschedule(t *Task, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.NextFire = at
	if t.index >= 0 {
		heap.Fix(&s.tasks, t.index)
	} else {
		heap.Push(&s.tasks, t)
	}
}

// SetMaxTickQueue reconfigures the tick-queue bound; the queue is rebuilt at
// the new size during the next tick's maintenance.
func (s *Scheduler) SetMaxTickQueue(n int) {
	if n <= 0 {
		return
	}
	s.tickMu.Lock()
	s.maxTickQueue = n
	s.tickMu.Unlock()
}

// TaskCount reports the number of queued tasks.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// Tick launches at most one new do-tick. When the tick queue is full it is
// first maintained (completed ticks dropped from both ends, the deque rebuilt
// if the bound was reconfigured); if still full, Tick applies backpressure and
// returns 0. Otherwise one do-tick is launched and 1 is returned.
func (s *Scheduler) Tick(ctx context.Context) int {
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return 0
	}
	defer func() { <-s.gate }()

	s.tickMu.Lock()
	if s.tickQueue.Len() >= s.maxTickQueue {
		s.maintainTickQueue()
	}
	if s.tickQueue.Len() >= s.maxTickQueue {
		s.tickMu.Unlock()
		return 0
	}

	handle := &tickHandle{done: make(chan struct{})}
	s.tickQueue.PushBack(handle)
	s.tickMu.Unlock()

	go func() {
		defer close(handle.done)
		s.doTick(ctx)
	}()

	return 1
}

// maintainTickQueue drops completed ticks from both ends of the queue and
// rebuilds the deque when the bound changed, preserving order. Caller holds
// tickMu.
func (s *Scheduler) maintainTickQueue() {
	for s.tickQueue.Len() > 0 && s.tickQueue.Front().completed() {
		s.tickQueue.PopFront()
	}
	for s.tickQueue.Len() > 0 && s.tickQueue.Back().completed() {
		s.tickQueue.PopBack()
	}

	if s.builtFor != s.maxTickQueue {
		rebuilt := deque.Deque[*tickHandle]{}
		for s.tickQueue.Len() > 0 {
			rebuilt.PushBack(s.tickQueue.PopFront())
		}
		s.tickQueue = rebuilt
		s.builtFor = s.maxTickQueue
	}
}

type execution struct {
	task    *Task
	done    chan struct{}
	err     error
	elapsed time.Duration
}

// doTick pops and runs every task due at the time the tick started. Executes
// are launched concurrently and awaited together; post-executes run after the
// last execute finished. Nothing a task does propagates past the scheduler.
func (s *Scheduler) doTick(ctx context.Context) {
	now := time.Now()

	var running []*execution
	var toReschedule []*Task

	for ctx.Err() == nil {
		s.mu.Lock()
		head := s.tasks.peek()
		s.mu.Unlock()
		if head == nil || head.NextFire.After(now) {
			break
		}

		s.mu.Lock()
		if s.tasks.Len() == 0 {
			s.mu.Unlock()
			break
		}
		popped := heap.Pop(&s.tasks).(*Task)
		if popped != head {
			// A concurrent reschedule moved the head; put the popped task back
			// and re-evaluate.
			heap.Push(&s.tasks, popped)
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		task := popped
		toReschedule = append(toReschedule, task)

		if task.PreExecute != nil {
			preStart := time.Now()
			err := task.PreExecute(ctx)
			if elapsed := time.Since(preStart); elapsed > preExecuteWarnAfter {
				s.log.Warnf("task %s: pre-execute took %s", task.Name, elapsed.Round(time.Millisecond))
			}
			if err != nil {
				task.Stats.RecordError(err)
				s.log.Warnf("task %s: pre-execute failed: %s", task.Name, err)
				continue
			}
		}

		ex := &execution{task: task, done: make(chan struct{})}
		running = append(running, ex)
		go func() {
			defer close(ex.done)
			start := time.Now()
			defer func() {
				ex.elapsed = time.Since(start)
				if rec := recover(); rec != nil {
					ex.err = fmt.Errorf("task %s panicked: %v", ex.task.Name, rec)
				}
			}()
			ex.err = ex.task.Execute(ctx)
		}()
	}

	for _, ex := range running {
		<-ex.done
	}

	for _, ex := range running {
		if ex.err != nil {
			ex.task.Stats.RecordError(ex.err)
			if !(errors.Is(ex.err, context.Canceled) && ctx.Err() != nil) {
				s.log.Warnf("task %s: execute failed: %s", ex.task.Name, ex.err)
			}
		} else {
			ex.task.Stats.RecordSuccess(ex.elapsed)
		}
	}

	for _, ex := range running {
		s.runPostExecute(ctx, ex)
	}

	s.mu.Lock()
	for _, task := range toReschedule {
		task.NextFire = time.Now().Add(task.Period)
		if task.index >= 0 {
			heap.Fix(&s.tasks, task.index)
		} else {
			heap.Push(&s.tasks, task)
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) runPostExecute(ctx context.Context, ex *execution) {
	if ex.task.PostExecute == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Warnf("task %s: post-execute panicked: %v", ex.task.Name, rec)
		}
	}()
	ex.task.PostExecute(ctx, ex.err)
}
