package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	werrors "walletkit/core/errors"
)

// Observer receives call telemetry. observability.WalletMetrics implements it.
type Observer interface {
	ObserveCall(channel, outcome string, attempts int, elapsed time.Duration)
	ObserveBreakerState(channel string, state State)
	ObserveQueueWait(channel string, wait time.Duration)
}

// Config configures every channel created by a Caller.
type Config struct {
	Interval   time.Duration
	Policy     Policy
	Breaker    BreakerConfig
	Classifier *Classifier
}

// Caller makes outbound calls safe to issue blindly: each named channel gets
// its own rate limited queue and circuit breaker.
type Caller struct {
	cfg        Config
	classifier *Classifier
	logger     *slog.Logger
	observer   Observer
	tracer     trace.Tracer
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	rnd        func(int64) int64

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

type channel struct {
	queue   *Queue
	breaker *Breaker
}

// Option configures a Caller.
type Option func(*Caller)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver attaches a telemetry sink.
func WithObserver(o Observer) Option {
	return func(c *Caller) { c.observer = o }
}

// WithClock overrides the breaker clock.
func WithClock(now func() time.Time) Option {
	return func(c *Caller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleep overrides the backoff sleeper.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Caller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithRand overrides the jitter source.
func WithRand(rnd func(int64) int64) Option {
	return func(c *Caller) {
		if rnd != nil {
			c.rnd = rnd
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Caller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewCaller constructs a caller. Channels are created lazily on first use.
func NewCaller(cfg Config, opts ...Option) *Caller {
	cfg.Policy = cfg.Policy.normalized()
	cfg.Breaker = cfg.Breaker.withDefaults()
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	c := &Caller{
		cfg:        cfg,
		classifier: classifier,
		logger:     slog.Default(),
		tracer:     otel.Tracer("walletkit/resilience"),
		now:        time.Now,
		sleep:      sleepContext,
		rnd:        defaultRand(),
		channels:   make(map[string]*channel),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Classifier exposes the error classifier used by the caller.
func (c *Caller) Classifier() *Classifier { return c.classifier }

// Policy returns the default retry policy.
func (c *Caller) Policy() Policy { return c.cfg.Policy }

func (c *Caller) channel(name string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		return ch
	}
	q := NewQueue(c.cfg.Interval)
	b := NewBreaker(name, c.cfg.Breaker, c.now)
	if c.observer != nil {
		obs := c.observer
		q.onWait = func(d time.Duration) { obs.ObserveQueueWait(name, d) }
		b.onChange = obs.ObserveBreakerState
	}
	ch := &channel{queue: q, breaker: b}
	c.channels[name] = ch
	return ch
}

// Enqueue admits task on the named channel's queue without retries.
func (c *Caller) Enqueue(ctx context.Context, name string, task Task) *Future {
	if c.isClosed() {
		f := newFuture()
		f.resolve(ErrQueueClosed)
		return f
	}
	return c.channel(name).queue.Enqueue(ctx, task)
}

// State reports the breaker state of a channel.
func (c *Caller) State(name string) State {
	return c.channel(name).breaker.State()
}

// CallOption adjusts one Execute call.
type CallOption func(*Policy)

// WithPolicy replaces the retry policy for a call.
func WithPolicy(p Policy) CallOption {
	return func(dst *Policy) { *dst = p.normalized() }
}

// WithMaxAttempts overrides only the attempt budget.
func WithMaxAttempts(n int) CallOption {
	return func(dst *Policy) {
		if n > 0 {
			dst.MaxAttempts = n
		}
	}
}

// Execute runs task through the channel's breaker and queue, retrying
// retryable failures with exponential backoff. The returned error is always
// categorised.
func (c *Caller) Execute(ctx context.Context, name string, task Task, opts ...CallOption) error {
	policy := c.cfg.Policy
	for _, opt := range opts {
		opt(&policy)
	}
	ctx, span := c.tracer.Start(ctx, "resilience.execute", trace.WithAttributes(attribute.String("channel", name)))
	defer span.End()

	start := time.Now()
	attempts, err := c.execute(ctx, name, task, policy)
	outcome := "success"
	if err != nil {
		outcome = string(werrors.CategoryOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.Int("attempts", attempts))
	if c.observer != nil {
		c.observer.ObserveCall(name, outcome, attempts, time.Since(start))
	}
	return err
}

func (c *Caller) execute(ctx context.Context, name string, task Task, policy Policy) (int, error) {
	if c.isClosed() {
		return 0, werrors.Transient("caller closed", ErrQueueClosed)
	}
	ch := c.channel(name)
	probe, err := ch.breaker.Allow()
	if err != nil {
		return 0, err
	}
	limit := policy.MaxAttempts
	if probe {
		limit = 1
		c.logger.Info("circuit probe", slog.String("channel", name))
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < limit; attempt++ {
		if attempt > 0 {
			if err := ch.breaker.Blocked(); err != nil {
				return attempts, err
			}
			delay := policy.Backoff(attempt-1, c.rnd)
			if err := c.sleep(ctx, delay); err != nil {
				return attempts, c.abandon(ch, probe, err)
			}
		}
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		err := ch.queue.Enqueue(attemptCtx, task).Wait(attemptCtx)
		cancel()
		if err == nil {
			ch.breaker.Success()
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, c.abandon(ch, probe, ctx.Err())
		}
		if errors.Is(err, ErrQueueClosed) {
			ch.breaker.Release()
			return attempts, werrors.Transient("caller closed", err)
		}
		wrapped := c.classifier.Wrap(err)
		cat := c.classifier.Classify(wrapped)
		if !cat.Retryable() {
			// the dependency answered; a definitive answer also settles a probe.
			if probe {
				ch.breaker.Success()
			}
			return attempts, wrapped
		}
		lastErr = wrapped
		c.logger.Warn("call attempt failed",
			slog.String("channel", name),
			slog.Int("attempt", attempts),
			slog.String("category", string(cat)),
			slog.Any("error", err))
	}
	ch.breaker.Failure()
	if ch.breaker.State() == StateOpen {
		c.logger.Warn("circuit opened", slog.String("channel", name))
	}
	return attempts, lastErr
}

func (c *Caller) abandon(ch *channel, probe bool, err error) error {
	if probe {
		ch.breaker.Release()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return werrors.Timeout(err)
	}
	return err
}

func (c *Caller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops every channel worker.
func (c *Caller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	for _, ch := range channels {
		ch.queue.Close()
	}
}
