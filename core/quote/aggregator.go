package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	werrors "walletkit/core/errors"
	"walletkit/resilience"
)

// Provider is an exchange adapter. Implementations normalise their raw
// responses into Quote and Pool at the boundary.
type Provider interface {
	Name() string
	FeeBps() int
	Quote(ctx context.Context, req Request) (*Quote, error)
	Pools(ctx context.Context, from, to Asset) ([]Pool, error)
}

// Observer receives per-provider derivation outcomes.
type Observer interface {
	ObserveQuote(provider string, source Source, err error)
}

// Aggregator fans a request out to every provider and ranks the results.
type Aggregator struct {
	caller      *resilience.Caller
	providers   []Provider
	static      *StaticPrices
	now         func() time.Time
	validity    time.Duration
	slippageBps int
	haircutBps  int
	logger      *slog.Logger
	observer    Observer
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithObserver attaches a telemetry sink.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithStaticPrices enables the last-resort static estimate.
func WithStaticPrices(s *StaticPrices) Option {
	return func(a *Aggregator) { a.static = s }
}

// WithSlippage sets the default slippage tolerance.
func WithSlippage(bps int) Option {
	return func(a *Aggregator) {
		if bps > 0 && bps <= MaxSlippageBps {
			a.slippageBps = bps
		}
	}
}

// WithEstimateHaircut sets the extra margin for confirmed estimates.
func WithEstimateHaircut(bps int) Option {
	return func(a *Aggregator) {
		if bps >= 0 && bps < basisPoints {
			a.haircutBps = bps
		}
	}
}

// WithValidity sets how long quotes remain executable, clamped to
// MaxValidity.
func WithValidity(d time.Duration) Option {
	return func(a *Aggregator) {
		if d <= 0 {
			return
		}
		if d > MaxValidity {
			d = MaxValidity
		}
		a.validity = d
	}
}

// NewAggregator constructs an aggregator over providers.
func NewAggregator(caller *resilience.Caller, providers []Provider, opts ...Option) (*Aggregator, error) {
	if caller == nil {
		return nil, fmt.Errorf("resilient caller required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required")
	}
	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("nil provider")
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		seen[p.Name()] = struct{}{}
	}
	a := &Aggregator{
		caller:      caller,
		providers:   append([]Provider{}, providers...),
		now:         time.Now,
		validity:    DefaultValidity,
		slippageBps: DefaultSlippageBps,
		haircutBps:  DefaultEstimateHaircutBps,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// EstimateHaircutBps is the margin applied to confirmed estimate quotes.
func (a *Aggregator) EstimateHaircutBps() int { return a.haircutBps }

// Providers returns the configured provider names.
func (a *Aggregator) Providers() []string {
	out := make([]string, 0, len(a.providers))
	for _, p := range a.providers {
		out = append(out, p.Name())
	}
	return out
}

// BestQuote queries every provider concurrently. Providers that fail are
// excluded; the call only fails with NoQuoteAvailable when none produced a
// quote.
func (a *Aggregator) BestQuote(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, werrors.Validation("%v", err)
	}
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = a.slippageBps
	}

	var (
		mu       sync.Mutex
		quotes   []*Quote
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for _, p := range a.providers {
		p := p
		g.Go(func() error {
			q, err := a.derive(ctx, p, req, slippage)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[p.Name()] = err
				return nil
			}
			quotes = append(quotes, q)
			return nil
		})
	}
	_ = g.Wait()

	if len(quotes) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		errs := make([]error, 0, len(failures))
		for name, err := range failures {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return nil, werrors.NoQuote(errors.Join(errs...))
	}
	sortQuotes(quotes)
	return &Result{Best: quotes[0], All: quotes, Failures: failures}, nil
}

func (a *Aggregator) derive(ctx context.Context, p Provider, req Request, slippage int) (*Quote, error) {
	channel := "quote/" + p.Name()

	var live *Quote
	liveErr := a.caller.Execute(ctx, channel, func(ctx context.Context) error {
		q, err := p.Quote(ctx, req)
		if err != nil {
			return err
		}
		live = q
		return nil
	})
	if liveErr == nil && live != nil && live.OutputAmount != nil && live.OutputAmount.Sign() > 0 {
		q, err := a.finish(live, p, req, slippage, SourceLive, false)
		a.observe(p.Name(), SourceLive, err)
		return q, err
	}
	if liveErr == nil {
		liveErr = ErrNoPool
	}
	a.observe(p.Name(), SourceLive, liveErr)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.logger.Debug("live quote unavailable, falling back",
		slog.String("provider", p.Name()),
		slog.String("pair", req.Pair()),
		slog.Any("error", liveErr))

	var pools []Pool
	poolErr := a.caller.Execute(ctx, channel, func(ctx context.Context) error {
		ps, err := p.Pools(ctx, req.From, req.To)
		if err != nil {
			return err
		}
		pools = ps
		return nil
	})
	if poolErr == nil {
		if pool, out, ok := bestPool(pools, req.Amount); ok {
			q := &Quote{
				OutputAmount: out,
				FeeEstimate:  feeOf(req.Amount, pool.FeeBps),
				PriceImpact:  PriceImpact(req.Amount, pool.ReserveIn),
				Route:        pool.Route,
			}
			if q.Route.Pool == "" {
				q.Route.Pool = pool.Address
			}
			res, err := a.finish(q, p, req, slippage, SourceAMM, false)
			a.observe(p.Name(), SourceAMM, err)
			return res, err
		}
		poolErr = ErrNoPool
	}
	a.observe(p.Name(), SourceAMM, poolErr)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if a.static != nil {
		out, err := a.static.Convert(req.From, req.To, req.Amount)
		if err == nil {
			out = ApplySlippage(out, p.FeeBps())
			if out.Sign() > 0 {
				q := &Quote{OutputAmount: out, FeeEstimate: feeOf(req.Amount, p.FeeBps())}
				res, ferr := a.finish(q, p, req, slippage, SourceStatic, true)
				a.observe(p.Name(), SourceStatic, ferr)
				return res, ferr
			}
			err = fmt.Errorf("static estimate rounds to zero")
		}
		a.observe(p.Name(), SourceStatic, err)
	}
	return nil, fmt.Errorf("live: %w; amm: %v", liveErr, poolErr)
}

func (a *Aggregator) finish(q *Quote, p Provider, req Request, slippage int, source Source, estimate bool) (*Quote, error) {
	out := &Quote{
		ProviderID:   p.Name(),
		Source:       source,
		SourceAsset:  req.From,
		TargetAsset:  req.To,
		InputAmount:  new(big.Int).Set(req.Amount),
		OutputAmount: new(big.Int).Set(q.OutputAmount),
		MinOutput:    ApplySlippage(q.OutputAmount, slippage),
		FeeEstimate:  q.FeeEstimate,
		PriceImpact:  q.PriceImpact,
		ValidUntil:   a.now().Add(a.validity),
		IsEstimate:   estimate,
		Route:        q.Route,
	}
	if out.FeeEstimate == nil {
		out.FeeEstimate = new(big.Int)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Aggregator) observe(provider string, source Source, err error) {
	if a.observer != nil {
		a.observer.ObserveQuote(provider, source, err)
	}
}

// sortQuotes orders by output descending; live beats estimate on ties, then
// provider name for determinism.
func sortQuotes(quotes []*Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if c := quotes[i].OutputAmount.Cmp(quotes[j].OutputAmount); c != 0 {
			return c > 0
		}
		if quotes[i].IsEstimate != quotes[j].IsEstimate {
			return !quotes[i].IsEstimate
		}
		return strings.Compare(quotes[i].ProviderID, quotes[j].ProviderID) < 0
	})
}
