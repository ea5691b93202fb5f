// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue admits, orders, and dispatches run tasks with bounded
// concurrency, priority, backpressure, and staleness expiry.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"coderunner-orchestrator/pkg/common/logutil"
	"coderunner-orchestrator/pkg/common/sessionutil"
)

var logger = logutil.GetLogger("queue")

// Work is the unit of execution a task carries; it is run on its own
// goroutine once dispatched and must itself be context-aware.
type Work func(ctx context.Context) error

// Config parameterizes a Queue.
type Config struct {
	MaxConcurrent int
	MaxQueueSize  int
	QueueTimeout  time.Duration
}

// Stats is the QueuedTask-level snapshot returned by GetStats.
type Stats struct {
	Queued          int
	Active          int
	MaxConcurrent   int
	MaxQueueSize    int
	CompletedTasks  int64
	FailedTasks     int64
	AverageTaskTime time.Duration
}

type task struct {
	work       Work
	priority   int
	language   string
	enqueuedAt time.Time
	done       chan error
	index      int
}

// taskHeap orders by (priority desc, enqueuedAt asc), the ordering
// enqueue must preserve.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
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

// Queue is the Execution Queue (SPEC_FULL §4.4): a priority heap plus a
// bounded-concurrency dispatch loop woken on every enqueue/completion.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	waiting  taskHeap
	active   int
	wake     chan struct{}

	statsMu        sync.Mutex
	completedTasks int64
	failedTasks    int64
	recentDurations []time.Duration // ring of last 100 completed task durations
}

// New constructs a Queue and starts its dispatch loop, which runs until
// ctx is cancelled.
func New(ctx context.Context, cfg Config) *Queue {
	q := &Queue{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}

	heap.Init(&q.waiting)

	go q.dispatchLoop(ctx)

	return q
}

// Enqueue admits work at the given priority, returning a channel that
// receives the task's terminal error (nil on success) exactly once.
func (q *Queue) Enqueue(language string, priority int, work Work) (<-chan error, error) {
	q.mu.Lock()

	if len(q.waiting) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()

		return nil, sessionutil.Wrapf(sessionutil.KindQueueFull, "queue at capacity (%d)", q.cfg.MaxQueueSize)
	}

	t := &task{
		work:       work,
		priority:   priority,
		language:   language,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}

	heap.Push(&q.waiting, t)
	q.mu.Unlock()

	q.nudge()

	return t.done, nil
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			q.evictStale()
			q.dispatchReady(ctx)
		case <-ticker.C:
			q.evictStale()
			q.dispatchReady(ctx)
		}
	}
}

// evictStale removes tasks whose wait time exceeds QueueTimeout, counting
// each as a failed task with kind Timeout.
func (q *Queue) evictStale() {
	if q.cfg.QueueTimeout <= 0 {
		return
	}

	q.mu.Lock()

	var stale []*task

	for i := 0; i < len(q.waiting); {
		t := q.waiting[i]
		if time.Since(t.enqueuedAt) > q.cfg.QueueTimeout {
			heap.Remove(&q.waiting, i)
			stale = append(stale, t)

			continue
		}

		i++
	}

	q.mu.Unlock()

	for _, t := range stale {
		t.done <- sessionutil.Wrapf(sessionutil.KindTimeout, "task waited longer than %s in queue", q.cfg.QueueTimeout)
		close(t.done)

		q.statsMu.Lock()
		q.failedTasks++
		q.statsMu.Unlock()
	}
}

func (q *Queue) dispatchReady(ctx context.Context) {
	for {
		q.mu.Lock()

		if q.active >= q.cfg.MaxConcurrent || len(q.waiting) == 0 {
			q.mu.Unlock()

			return
		}

		t := heap.Pop(&q.waiting).(*task)
		q.active++
		q.mu.Unlock()

		go q.run(ctx, t)
	}
}

func (q *Queue) run(ctx context.Context, t *task) {
	start := time.Now()

	err := func() (result error) {
		defer func() {
			if r := recover(); r != nil {
				result = sessionutil.Wrapf(sessionutil.KindInternal, "task panicked: %v", r)
			}
		}()

		return t.work(ctx)
	}()

	duration := time.Since(start)

	q.mu.Lock()
	q.active--
	q.mu.Unlock()

	q.statsMu.Lock()
	if err != nil {
		q.failedTasks++
		logger.WithField("language", t.language).Warnf("task failed: %v", err)
	} else {
		q.completedTasks++
	}

	q.recentDurations = append(q.recentDurations, duration)
	if len(q.recentDurations) > 100 {
		q.recentDurations = q.recentDurations[len(q.recentDurations)-100:]
	}
	q.statsMu.Unlock()

	t.done <- err
	close(t.done)

	q.nudge()
}

// QueueDepth reports the number of tasks currently waiting to be dispatched,
// satisfying pool.QueueDepthProvider so getMetrics can surface it alongside
// the pool's own counters (SPEC_FULL §4.3).
func (q *Queue) QueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.waiting)
}

// GetStats returns the current queue/dispatch snapshot.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	queued := len(q.waiting)
	active := q.active
	q.mu.Unlock()

	q.statsMu.Lock()
	defer q.statsMu.Unlock()

	var avg time.Duration
	if n := len(q.recentDurations); n > 0 {
		var sum time.Duration
		for _, d := range q.recentDurations {
			sum += d
		}
		avg = sum / time.Duration(n)
	}

	return Stats{
		Queued:          queued,
		Active:          active,
		MaxConcurrent:   q.cfg.MaxConcurrent,
		MaxQueueSize:    q.cfg.MaxQueueSize,
		CompletedTasks:  q.completedTasks,
		FailedTasks:     q.failedTasks,
		AverageTaskTime: avg,
	}
}
