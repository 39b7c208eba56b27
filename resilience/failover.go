package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync"

	werrors "walletkit/core/errors"
)

// EndpointFailure records why one endpoint was skipped.
type EndpointFailure struct {
	Endpoint string
	Err      error
}

// FailoverError aggregates the failures of every tried endpoint.
type FailoverError struct {
	Name     string
	Category werrors.Category
	Failures []EndpointFailure
}

func (e *FailoverError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Endpoint, f.Err))
	}
	return fmt.Sprintf("%s: all endpoints failed (%s)", e.Name, strings.Join(parts, "; "))
}

// Unwrap exposes a categorised summary first, then every per-endpoint error.
func (e *FailoverError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	out = append(out, &werrors.Error{
		Category: e.Category,
		Message:  fmt.Sprintf("all %s endpoints failed", e.Name),
		Remedy:   "try again later",
	})
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Failover walks a list of equivalent endpoints, starting with the last one
// that succeeded.
type Failover struct {
	caller    *Caller
	name      string
	endpoints []string

	mu        sync.Mutex
	preferred int
}

// NewFailover constructs a failover group. Each endpoint becomes its own
// caller channel so breakers trip per endpoint.
func NewFailover(caller *Caller, name string, endpoints []string) (*Failover, error) {
	if caller == nil {
		return nil, fmt.Errorf("failover: caller required")
	}
	cleaned := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep = strings.TrimRight(strings.TrimSpace(ep), "/"); ep != "" {
			cleaned = append(cleaned, ep)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("failover %s: at least one endpoint required", name)
	}
	return &Failover{caller: caller, name: name, endpoints: cleaned}, nil
}

// Endpoints returns the configured endpoints.
func (f *Failover) Endpoints() []string {
	return append([]string(nil), f.endpoints...)
}

// Preferred returns the endpoint tried first on the next call.
func (f *Failover) Preferred() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[f.preferred]
}

// Do calls fn with endpoint+path for each candidate until one succeeds.
// Definitive answers (validation, insufficient funds, rejection) stop the walk
// because every replica would answer the same.
func (f *Failover) Do(ctx context.Context, path string, fn func(ctx context.Context, url string) error, opts ...CallOption) error {
	f.mu.Lock()
	start := f.preferred
	f.mu.Unlock()

	failures := make([]EndpointFailure, 0, len(f.endpoints))
	for i := 0; i < len(f.endpoints); i++ {
		idx := (start + i) % len(f.endpoints)
		endpoint := f.endpoints[idx]
		url := endpoint + path
		err := f.caller.Execute(ctx, f.name+"@"+endpoint, func(ctx context.Context) error {
			return fn(ctx, url)
		}, opts...)
		if err == nil {
			f.mu.Lock()
			f.preferred = idx
			f.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		switch werrors.CategoryOf(err) {
		case werrors.CategoryValidation, werrors.CategoryInsufficientFunds, werrors.CategoryRejected:
			return err
		}
		failures = append(failures, EndpointFailure{Endpoint: endpoint, Err: err})
	}
	return &FailoverError{Name: f.name, Category: summarize(failures), Failures: failures}
}

func summarize(failures []EndpointFailure) werrors.Category {
	var cat werrors.Category
	for i, f := range failures {
		c := werrors.CategoryOf(f.Err)
		if i == 0 {
			cat = c
			continue
		}
		if c != cat {
			return werrors.CategoryTransientNetwork
		}
	}
	if cat == "" || cat == werrors.CategoryUnknown {
		return werrors.CategoryTransientNetwork
	}
	return cat
}
