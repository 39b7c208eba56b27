package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	werrors "walletkit/core/errors"
)

// StatusError reports a non-success HTTP status from an upstream.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, body)
}

// Classifier maps raw errors onto the error taxonomy. Typed errors win;
// untyped errors are matched against lowercase message patterns.
type Classifier struct {
	patterns map[werrors.Category][]string
	order    []werrors.Category
}

// DefaultPatterns is the built-in message taxonomy.
func DefaultPatterns() map[werrors.Category][]string {
	return map[werrors.Category][]string{
		werrors.CategoryRateLimit:         {"rate limit", "ratelimit", "too many requests", "status 429"},
		werrors.CategoryTimeout:           {"timeout", "timed out", "deadline exceeded"},
		werrors.CategoryTransientNetwork:  {"connection reset", "connection refused", "broken pipe", "eof", "no such host", "network is unreachable", "temporarily unavailable", "bad gateway", "service unavailable", "status 5"},
		werrors.CategoryInsufficientFunds: {"insufficient funds", "not enough balance", "insufficient balance"},
		werrors.CategoryValidation:        {"invalid address", "bad signature", "invalid signature", "validation"},
	}
}

// NewClassifier builds a classifier from category patterns. A nil map uses
// DefaultPatterns.
func NewClassifier(patterns map[werrors.Category][]string) *Classifier {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	c := &Classifier{patterns: make(map[werrors.Category][]string, len(patterns))}
	for cat, list := range patterns {
		normalized := make([]string, 0, len(list))
		for _, p := range list {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				normalized = append(normalized, p)
			}
		}
		c.patterns[cat] = normalized
	}
	// non-retryable classes are checked first so "invalid signature timeout"
	// style messages never turn into retries.
	for _, cat := range []werrors.Category{
		werrors.CategoryInsufficientFunds,
		werrors.CategoryValidation,
		werrors.CategoryRateLimit,
		werrors.CategoryTimeout,
		werrors.CategoryTransientNetwork,
	} {
		if _, ok := c.patterns[cat]; ok {
			c.order = append(c.order, cat)
		}
	}
	for cat := range c.patterns {
		if !containsCategory(c.order, cat) {
			c.order = append(c.order, cat)
		}
	}
	return c
}

// Classify returns the category for err.
func (c *Classifier) Classify(err error) werrors.Category {
	if err == nil {
		return ""
	}
	var typed *werrors.Error
	if stderrors.As(err, &typed) {
		return typed.Category
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return werrors.CategoryTimeout
	}
	if stderrors.Is(err, context.Canceled) {
		return werrors.CategoryUnknown
	}
	var status *StatusError
	if stderrors.As(err, &status) {
		return classifyStatus(status.Code)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return werrors.CategoryTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, cat := range c.order {
		for _, p := range c.patterns[cat] {
			if strings.Contains(msg, p) {
				return cat
			}
		}
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return werrors.CategoryTransientNetwork
	}
	return werrors.CategoryUnknown
}

// Wrap converts err into a categorised *werrors.Error unless it already is one.
func (c *Classifier) Wrap(err error) error {
	if err == nil {
		return nil
	}
	var typed *werrors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	switch cat := c.Classify(err); cat {
	case werrors.CategoryRateLimit:
		var status *StatusError
		var after time.Duration
		if stderrors.As(err, &status) {
			after = status.RetryAfter
		}
		return werrors.RateLimited(after, err)
	case werrors.CategoryTimeout:
		return werrors.Timeout(err)
	case werrors.CategoryTransientNetwork:
		return werrors.Transient("", err)
	case werrors.CategoryInsufficientFunds:
		return &werrors.Error{Category: cat, Message: "insufficient funds", Remedy: "check balance", Err: err}
	case werrors.CategoryValidation:
		return &werrors.Error{Category: cat, Message: "request rejected as invalid", Remedy: "check the request fields and try again", Err: err}
	case werrors.CategoryRejected:
		return werrors.Rejected("request rejected by upstream", err)
	default:
		return err
	}
}

func classifyStatus(code int) werrors.Category {
	switch {
	case code == http.StatusTooManyRequests:
		return werrors.CategoryRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return werrors.CategoryTimeout
	case code >= 500:
		return werrors.CategoryTransientNetwork
	case code >= 400:
		return werrors.CategoryRejected
	default:
		return werrors.CategoryUnknown
	}
}

func containsCategory(list []werrors.Category, cat werrors.Category) bool {
	for _, c := range list {
		if c == cat {
			return true
		}
	}
	return false
}
