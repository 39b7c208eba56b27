package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorMatchesCategorySentinel(t *testing.T) {
	err := fmt.Errorf("quote: %w", Timeout(context.DeadlineExceeded))
	if !stderrors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout sentinel match")
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped cause to remain reachable")
	}
	if stderrors.Is(err, ErrValidation) {
		t.Fatalf("timeout must not match validation")
	}
	if got := CategoryOf(err); got != CategoryTimeout {
		t.Fatalf("unexpected category %q", got)
	}
}

func TestCategoryRetryability(t *testing.T) {
	cases := map[Category]bool{
		CategoryRateLimit:         true,
		CategoryTimeout:           true,
		CategoryTransientNetwork:  true,
		CategoryValidation:        false,
		CategoryInsufficientFunds: false,
		CategoryPersistence:       false,
		CategoryCircuitOpen:       false,
	}
	for cat, want := range cases {
		if got := cat.Retryable(); got != want {
			t.Fatalf("%s: retryable=%v want %v", cat, got, want)
		}
	}
	if !CategoryPersistence.Fatal() || !CategoryIDSpaceExhausted.Fatal() {
		t.Fatalf("persistence and id exhaustion must be fatal")
	}
}

func TestDescribeCarriesRemedy(t *testing.T) {
	desc := Describe(RateLimited(12*time.Second, nil))
	if desc.Category != CategoryRateLimit {
		t.Fatalf("unexpected category %q", desc.Category)
	}
	if desc.Remedy != "wait 12 seconds and try again" {
		t.Fatalf("unexpected remedy %q", desc.Remedy)
	}
	if desc.RetryAfter != 12 {
		t.Fatalf("unexpected retry after %d", desc.RetryAfter)
	}

	addr := Describe(InvalidAddress("bogus", nil))
	if addr.Remedy != "check address format" {
		t.Fatalf("unexpected address remedy %q", addr.Remedy)
	}

	plain := Describe(stderrors.New("boom"))
	if plain.Category != CategoryUnknown {
		t.Fatalf("expected unknown category, got %q", plain.Category)
	}
}
