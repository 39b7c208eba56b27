package quote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walletkit/core/schedule"
)

// Snapshot is the latest quote for a watched pair and its countdown.
type Snapshot struct {
	Quote     *Quote
	Remaining time.Duration
	Err       error
	UpdatedAt time.Time
}

// Refresher periodically re-quotes watched requests so callers can show a
// live countdown without issuing their own timers.
type Refresher struct {
	agg      *Aggregator
	clock    schedule.Clock
	interval time.Duration
	requests []Request
	logger   *slog.Logger

	mu     sync.RWMutex
	latest map[string]Snapshot
	task   *schedule.Task
}

// NewRefresher constructs a refresher; call Start to begin polling.
func NewRefresher(agg *Aggregator, clock schedule.Clock, interval time.Duration, requests []Request, logger *slog.Logger) (*Refresher, error) {
	if agg == nil {
		return nil, fmt.Errorf("aggregator required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		agg:      agg,
		clock:    clock,
		interval: interval,
		requests: append([]Request{}, requests...),
		logger:   logger,
		latest:   make(map[string]Snapshot),
	}, nil
}

// Start schedules periodic refreshes until ctx ends or Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task != nil {
		return
	}
	r.task = schedule.Every(ctx, r.clock, r.interval, func(ctx context.Context) {
		r.Refresh(ctx)
	})
}

// Stop cancels the schedule and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	task := r.task
	r.task = nil
	r.mu.Unlock()
	if task != nil {
		task.Cancel()
		task.Wait()
	}
}

// Refresh re-quotes every watched request once.
func (r *Refresher) Refresh(ctx context.Context) {
	for _, req := range r.requests {
		if ctx.Err() != nil {
			return
		}
		res, err := r.agg.BestQuote(ctx, req)
		snap := Snapshot{Err: err, UpdatedAt: r.clock.Now()}
		if err == nil {
			snap.Quote = res.Best
		} else {
			r.logger.Warn("quote refresh failed", slog.String("pair", req.Pair()), slog.Any("error", err))
		}
		r.mu.Lock()
		if prev, ok := r.latest[req.Pair()]; ok && err != nil && prev.Quote != nil {
			// keep the last good quote; it expires on its own.
			snap.Quote = prev.Quote
		}
		r.latest[req.Pair()] = snap
		r.mu.Unlock()
	}
}

// Latest returns the most recent snapshot for pair ("from->to") with the
// countdown computed against the refresher clock. Expired quotes are dropped.
func (r *Refresher) Latest(pair string) (Snapshot, bool) {
	r.mu.RLock()
	snap, ok := r.latest[pair]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	if snap.Quote != nil {
		snap.Remaining = schedule.Countdown(r.clock, snap.Quote.ValidUntil)
		if snap.Remaining == 0 {
			snap.Quote = nil
		}
	}
	return snap, snap.Quote != nil || snap.Err != nil
}
