package ids

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	werrors "walletkit/core/errors"
)

// Store persists the cursor of each account. Save must not return until the
// record is durable.
type Store interface {
	LoadCursor(ctx context.Context, account string) (CompositeID, bool, error)
	SaveCursor(ctx context.Context, account string, cursor CompositeID) error
}

// Observer receives allocation outcomes. A nil observer is ignored.
type Observer interface {
	RecordAllocation(account string, id CompositeID, err error)
}

// Allocator hands out composite ids. Allocation returns the current cursor
// and persists its successor before the id is released to the caller.
type Allocator struct {
	store    Store
	logger   *slog.Logger
	observer Observer

	mu sync.Mutex
}

// Option customises the allocator.
type Option func(*Allocator)

// WithLogger installs a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// WithObserver installs an allocation observer (metrics).
func WithObserver(o Observer) Option {
	return func(a *Allocator) { a.observer = o }
}

// NewAllocator constructs an allocator over the supplied store.
func NewAllocator(store Store, opts ...Option) (*Allocator, error) {
	if store == nil {
		return nil, fmt.Errorf("ids: store required")
	}
	a := &Allocator{store: store, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Next allocates the next id for account.
func (a *Allocator) Next(ctx context.Context, account string) (CompositeID, error) {
	key, err := accountKey(account)
	if err != nil {
		return CompositeID{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.load(ctx, key)
	if err != nil {
		a.record(key, CompositeID{}, err)
		return CompositeID{}, err
	}
	if current.Exhausted() {
		err := werrors.IDSpaceExhausted(key)
		a.record(key, CompositeID{}, err)
		return CompositeID{}, err
	}
	next := current.Successor()
	if err := a.store.SaveCursor(ctx, key, next); err != nil {
		perr := werrors.Persistence("save cursor", err)
		a.logger.Error("composite id cursor write failed", "account", key, "error", err)
		a.record(key, CompositeID{}, perr)
		return CompositeID{}, perr
	}
	a.record(key, current, nil)
	return current, nil
}

// HasNext reports whether Next can still allocate for account.
func (a *Allocator) HasNext(ctx context.Context, account string) (bool, error) {
	current, err := a.Peek(ctx, account)
	if err != nil {
		return false, err
	}
	return !current.Exhausted(), nil
}

// Peek returns the id Next would hand out, without advancing. Only suitable
// for previews.
func (a *Allocator) Peek(ctx context.Context, account string) (CompositeID, error) {
	key, err := accountKey(account)
	if err != nil {
		return CompositeID{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx, key)
}

func (a *Allocator) load(ctx context.Context, key string) (CompositeID, error) {
	cursor, ok, err := a.store.LoadCursor(ctx, key)
	if err != nil {
		return CompositeID{}, werrors.Persistence("load cursor", err)
	}
	if !ok {
		return CompositeID{}, nil
	}
	if !cursor.Valid() {
		return CompositeID{}, werrors.Persistence("load cursor", fmt.Errorf("stored cursor %s out of range", cursor))
	}
	return cursor, nil
}

func (a *Allocator) record(key string, id CompositeID, err error) {
	if a.observer != nil {
		a.observer.RecordAllocation(key, id, err)
	}
}

func accountKey(account string) (string, error) {
	key := strings.TrimSpace(account)
	if key == "" {
		return "", werrors.Validation("account key required")
	}
	return key, nil
}
