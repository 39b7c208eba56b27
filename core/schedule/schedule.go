// Package schedule provides cancellable timers driven by an injectable clock
// so periodic work can be tested deterministically.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock abstracts the time source.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Task is a handle to scheduled work.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops future runs. A run in progress observes a cancelled context.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

// Done is closed once the task will never run again.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is done.
func (t *Task) Wait() { <-t.done }

// Every runs fn immediately and then once per interval until ctx ends or the
// task is cancelled. Runs never overlap.
func Every(ctx context.Context, clock Clock, interval time.Duration, fn func(context.Context)) *Task {
	if clock == nil {
		clock = SystemClock{}
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		for {
			fn(ctx)
			if interval <= 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-clock.After(interval):
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return t
}

// After runs fn once when d has elapsed unless cancelled first.
func After(ctx context.Context, clock Clock, d time.Duration, fn func(context.Context)) *Task {
	if clock == nil {
		clock = SystemClock{}
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		select {
		case <-ctx.Done():
			return
		case <-clock.After(d):
		}
		if ctx.Err() == nil {
			fn(ctx)
		}
	}()
	return t
}

// FakeClock only moves when advanced.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewFakeClock starts at now.
func NewFakeClock(now time.Time) *FakeClock { return &FakeClock{now: now} }

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a waiter fired by Advance.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves time forward and fires due waiters in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	sort.Slice(c.waiters, func(i, j int) bool { return c.waiters[i].at.Before(c.waiters[j].at) })
	var due []waiter
	keep := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(now) {
			due = append(due, w)
		} else {
			keep = append(keep, w)
		}
	}
	c.waiters = keep
	c.mu.Unlock()
	for _, w := range due {
		w.ch <- now
	}
}

// Waiters reports the number of pending timers. Tests use it to wait until a
// goroutine has parked on the clock.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Countdown is the remaining time until deadline, floored at zero.
func Countdown(clock Clock, deadline time.Time) time.Duration {
	if clock == nil {
		clock = SystemClock{}
	}
	if rem := deadline.Sub(clock.Now()); rem > 0 {
		return rem
	}
	return 0
}
