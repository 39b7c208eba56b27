package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrQueueClosed is returned for work admitted after Close.
var ErrQueueClosed = errors.New("resilience: queue closed")

// Task is a unit of outbound work.
type Task func(ctx context.Context) error

// Future resolves with the outcome of an enqueued task.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the task finished or was skipped.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	ctx      context.Context
	task     Task
	future   *Future
	admitted time.Time
}

// Queue is a FIFO drained by a single worker that starts at most one task per
// interval.
type Queue struct {
	limiter *rate.Limiter
	onWait  func(time.Duration)

	mu      sync.Mutex
	pending []*job
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// NewQueue starts a queue worker. A non-positive interval disables spacing.
func NewQueue(interval time.Duration) *Queue {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	q := &Queue{
		limiter: rate.NewLimiter(limit, 1),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue admits task. The future is rejected with the context error if ctx
// ends before the task is started.
func (q *Queue) Enqueue(ctx context.Context, task Task) *Future {
	f := newFuture()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.resolve(ErrQueueClosed)
		return f
	}
	q.pending = append(q.pending, &job{ctx: ctx, task: task, future: f, admitted: time.Now()})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return f
}

// Len reports the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the worker and rejects anything still pending.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.stop)
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		j := q.pop()
		if j == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				q.drain()
				return
			}
		}
		if err := j.ctx.Err(); err != nil {
			j.future.resolve(err)
			continue
		}
		if err := q.limiter.Wait(j.ctx); err != nil {
			j.future.resolve(err)
			continue
		}
		if q.onWait != nil {
			q.onWait(time.Since(j.admitted))
		}
		j.future.resolve(j.task(j.ctx))
	}
}

func (q *Queue) pop() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return j
}

func (q *Queue) drain() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, j := range pending {
		j.future.resolve(ErrQueueClosed)
	}
}
