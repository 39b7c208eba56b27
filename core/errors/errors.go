package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Category is the machine readable classification attached to every surfaced error.
type Category string

const (
	CategoryValidation        Category = "validation"
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategoryRateLimit         Category = "rate_limit"
	CategoryTimeout           Category = "timeout"
	CategoryTransientNetwork  Category = "transient_network"
	CategoryCircuitOpen       Category = "circuit_open"
	CategoryNoQuote           Category = "no_quote_available"
	CategoryIDSpaceExhausted  Category = "id_space_exhausted"
	CategoryPersistence       Category = "persistence"
	CategoryRejected          Category = "rejected"
	CategoryUnknown           Category = "unknown"
)

var (
	ErrValidation        = stderrors.New("validation failed")
	ErrInsufficientFunds = stderrors.New("insufficient funds")
	ErrRateLimit         = stderrors.New("rate limited")
	ErrTimeout           = stderrors.New("timed out")
	ErrTransientNetwork  = stderrors.New("transient network failure")
	ErrCircuitOpen       = stderrors.New("service temporarily unavailable")
	ErrNoQuoteAvailable  = stderrors.New("no quote available")
	ErrIDSpaceExhausted  = stderrors.New("composite id space exhausted")
	ErrPersistence       = stderrors.New("persistence failure")
	ErrRejected          = stderrors.New("rejected by network")
)

var sentinels = map[Category]error{
	CategoryValidation:        ErrValidation,
	CategoryInsufficientFunds: ErrInsufficientFunds,
	CategoryRateLimit:         ErrRateLimit,
	CategoryTimeout:           ErrTimeout,
	CategoryTransientNetwork:  ErrTransientNetwork,
	CategoryCircuitOpen:       ErrCircuitOpen,
	CategoryNoQuote:           ErrNoQuoteAvailable,
	CategoryIDSpaceExhausted:  ErrIDSpaceExhausted,
	CategoryPersistence:       ErrPersistence,
	CategoryRejected:          ErrRejected,
}

// Error carries a category, a human readable message and an optional remedy
// suggestion. errors.Is matches both the category sentinel and the wrapped cause.
type Error struct {
	Category   Category
	Message    string
	Remedy     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		if s, ok := sentinels[e.Category]; ok {
			msg = s.Error()
		} else {
			msg = string(e.Category)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the category sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Category]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether the category is one of the transient classes.
func (c Category) Retryable() bool {
	switch c {
	case CategoryRateLimit, CategoryTimeout, CategoryTransientNetwork:
		return true
	default:
		return false
	}
}

// Fatal reports whether the category must never be downgraded into a retry.
func (c Category) Fatal() bool {
	switch c {
	case CategoryIDSpaceExhausted, CategoryPersistence:
		return true
	default:
		return false
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Category: CategoryValidation, Message: fmt.Sprintf(format, args...), Remedy: "check the request fields and try again"}
}

func InvalidAddress(raw string, cause error) *Error {
	return &Error{Category: CategoryValidation, Message: fmt.Sprintf("invalid address %q", raw), Remedy: "check address format", Err: cause}
}

func InsufficientFunds(message string) *Error {
	return &Error{Category: CategoryInsufficientFunds, Message: message, Remedy: "check balance"}
}

func RateLimited(retryAfter time.Duration, cause error) *Error {
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	return &Error{Category: CategoryRateLimit, Message: "rate limited by upstream", Remedy: waitRemedy(retryAfter), RetryAfter: retryAfter, Err: cause}
}

func Timeout(cause error) *Error {
	return &Error{Category: CategoryTimeout, Message: "upstream call timed out", Remedy: "try again", Err: cause}
}

func Transient(message string, cause error) *Error {
	if strings.TrimSpace(message) == "" {
		message = "transient network failure"
	}
	return &Error{Category: CategoryTransientNetwork, Message: message, Remedy: "try again", Err: cause}
}

func CircuitOpen(channel string, retryAfter time.Duration) *Error {
	return &Error{
		Category:   CategoryCircuitOpen,
		Message:    fmt.Sprintf("service temporarily unavailable (%s)", channel),
		Remedy:     waitRemedy(retryAfter),
		RetryAfter: retryAfter,
	}
}

func NoQuote(cause error) *Error {
	return &Error{Category: CategoryNoQuote, Message: "no quote available", Remedy: "try again later", Err: cause}
}

func IDSpaceExhausted(account string) *Error {
	return &Error{Category: CategoryIDSpaceExhausted, Message: fmt.Sprintf("composite id space exhausted for %s", account), Remedy: "rotate to a fresh account subspace"}
}

func Persistence(op string, cause error) *Error {
	return &Error{Category: CategoryPersistence, Message: fmt.Sprintf("persistence failure during %s", op), Err: cause}
}

func Rejected(message string, cause error) *Error {
	return &Error{Category: CategoryRejected, Message: message, Remedy: "rebuild the transaction and submit again", Err: cause}
}

func waitRemedy(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("wait %d seconds and try again", secs)
}

// CategoryOf resolves the category of err, walking the wrap chain.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	for cat, sentinel := range sentinels {
		if stderrors.Is(err, sentinel) {
			return cat
		}
	}
	return CategoryUnknown
}

// Description is the user-visible rendering of an error.
type Description struct {
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Remedy     string   `json:"remedy,omitempty"`
	RetryAfter int      `json:"retry_after_seconds,omitempty"`
}

// Describe renders err for display, falling back to the unknown category.
func Describe(err error) Description {
	if err == nil {
		return Description{}
	}
	var e *Error
	if stderrors.As(err, &e) {
		return Description{
			Category:   e.Category,
			Message:    e.Error(),
			Remedy:     e.Remedy,
			RetryAfter: int(e.RetryAfter / time.Second),
		}
	}
	return Description{Category: CategoryOf(err), Message: err.Error()}
}
