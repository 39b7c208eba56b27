package resilience

import (
	"sync"
	"time"

	werrors "walletkit/core/errors"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a breaker.
type BreakerConfig struct {
	Threshold    int
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Breaker tracks consecutive failures for a channel. Once open it rejects
// calls until ResetTimeout elapses, then admits exactly one probe.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	onChange func(name string, s State)
}

// NewBreaker constructs a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: now}
}

// Allow is consulted before a call. It returns probe=true when the call is the
// single half-open probe, or a CircuitOpen error when the call must not run.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			return false, werrors.CircuitOpen(b.name, b.cfg.ResetTimeout-elapsed)
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true, nil
	default:
		if b.probing {
			return false, werrors.CircuitOpen(b.name, b.cfg.ResetTimeout)
		}
		b.probing = true
		return true, nil
	}
}

// Blocked reports a CircuitOpen error if the breaker is open and cooling
// down. It never transitions state.
func (b *Breaker) Blocked() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	elapsed := b.now().Sub(b.openedAt)
	if elapsed < b.cfg.ResetTimeout {
		return werrors.CircuitOpen(b.name, b.cfg.ResetTimeout-elapsed)
	}
	return nil
}

// Success closes the breaker and resets the failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.setState(StateClosed)
}

// Failure records an exhausted call. A failed probe re-opens the breaker with
// a fresh timestamp.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
		b.openedAt = b.now()
		b.setState(StateOpen)
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// Release abandons an in-flight probe without an outcome (caller cancelled).
// The breaker returns to open keeping the original timestamp so the next call
// may probe again.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probing {
		b.probing = false
		b.setState(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the rolling failure counter.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(b.name, s)
	}
}
