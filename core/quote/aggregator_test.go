package quote

import (
	"context"
	stderrors "errors"
	"math/big"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	werrors "walletkit/core/errors"
	"walletkit/core/schedule"
	"walletkit/resilience"
)

var (
	assetA = Asset{ID: NativeAssetID, Symbol: "TON", Decimals: 9}
	assetB = Asset{ID: "0:" + "b1" + "00000000000000000000000000000000000000000000000000000000000000", Symbol: "USDT", Decimals: 6}
)

type fakeProvider struct {
	name   string
	fee    int
	out    int64
	err    error
	pools  []Pool
	calls  int32
	pcalls int32
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) FeeBps() int  { return f.fee }

func (f *fakeProvider) Quote(ctx context.Context, req Request) (*Quote, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	if f.out == 0 {
		return nil, ErrNoPool
	}
	return &Quote{OutputAmount: big.NewInt(f.out), FeeEstimate: big.NewInt(1), Route: Route{Pool: f.name + "-pool"}}, nil
}

func (f *fakeProvider) Pools(ctx context.Context, from, to Asset) ([]Pool, error) {
	atomic.AddInt32(&f.pcalls, 1)
	if len(f.pools) == 0 {
		return nil, ErrNoPool
	}
	return f.pools, nil
}

func testCaller(t *testing.T) *resilience.Caller {
	t.Helper()
	c := resilience.NewCaller(resilience.Config{
		Policy: resilience.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: time.Second},
	}, resilience.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	t.Cleanup(c.Close)
	return c
}

func request(amount int64) Request {
	return Request{From: assetA, To: assetB, Amount: big.NewInt(amount)}
}

func TestBestQuotePicksHighestOutput(t *testing.T) {
	a := &fakeProvider{name: "ston", out: 95}
	b := &fakeProvider{name: "dedust", out: 98}
	agg, err := NewAggregator(testCaller(t), []Provider{a, b})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	res, err := agg.BestQuote(context.Background(), request(100))
	if err != nil {
		t.Fatalf("best quote: %v", err)
	}
	if res.Best.OutputAmount.Int64() != 98 || res.Best.ProviderID != "dedust" {
		t.Fatalf("unexpected best %s from %s", res.Best.OutputAmount, res.Best.ProviderID)
	}
	if len(res.All) != 2 {
		t.Fatalf("expected two quotes, got %d", len(res.All))
	}
	if res.All[0].OutputAmount.Cmp(res.All[1].OutputAmount) < 0 {
		t.Fatalf("quotes not ordered descending")
	}
	for _, q := range res.All {
		if q.MinOutput.Cmp(q.OutputAmount) > 0 {
			t.Fatalf("min output exceeds output for %s", q.ProviderID)
		}
		if q.Source != SourceLive || q.IsEstimate {
			t.Fatalf("live quote mislabelled: %+v", q)
		}
	}
}

func TestTimeoutProviderIsExcluded(t *testing.T) {
	slow := &fakeProvider{name: "ston", err: werrors.Timeout(context.DeadlineExceeded)}
	ok := &fakeProvider{name: "dedust", out: 77}
	agg, _ := NewAggregator(testCaller(t), []Provider{slow, ok})
	res, err := agg.BestQuote(context.Background(), request(100))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res.Best.ProviderID != "dedust" || len(res.All) != 1 {
		t.Fatalf("unexpected result %+v", res.Best)
	}
	if _, failed := res.Failures["ston"]; !failed {
		t.Fatalf("timeout provider should be reported as failed")
	}
	if atomic.LoadInt32(&slow.calls) != 2 {
		t.Fatalf("timeouts should be retried per policy, got %d calls", slow.calls)
	}
}

func TestAllProvidersFailing(t *testing.T) {
	a := &fakeProvider{name: "ston", err: stderrors.New("connection refused")}
	b := &fakeProvider{name: "dedust", err: werrors.Timeout(nil)}
	agg, _ := NewAggregator(testCaller(t), []Provider{a, b})
	_, err := agg.BestQuote(context.Background(), request(100))
	if !stderrors.Is(err, werrors.ErrNoQuoteAvailable) {
		t.Fatalf("expected NoQuoteAvailable, got %v", err)
	}
}

func TestAMMFallback(t *testing.T) {
	if got := AMMOutput(big.NewInt(10), big.NewInt(1000), big.NewInt(2000), 30); got.Int64() != 19 {
		t.Fatalf("amm output %s, want 19", got)
	}
	// 997*10*2000 / (1000*1000 + 997*10) = 19940000/1009970
	want := new(big.Int).Quo(big.NewInt(997*10*2000), big.NewInt(1000*1000+997*10))
	if got := AMMOutput(big.NewInt(10), big.NewInt(1000), big.NewInt(2000), 30); got.Cmp(want) != 0 {
		t.Fatalf("amm output %s, want %s", got, want)
	}

	p := &fakeProvider{name: "dedust", pools: []Pool{
		{Address: "empty", ReserveIn: big.NewInt(0), ReserveOut: big.NewInt(0), FeeBps: 30},
		{Address: "deep", ReserveIn: big.NewInt(1000), ReserveOut: big.NewInt(2000), FeeBps: 30},
	}}
	agg, _ := NewAggregator(testCaller(t), []Provider{p})
	res, err := agg.BestQuote(context.Background(), request(10))
	if err != nil {
		t.Fatalf("best quote: %v", err)
	}
	q := res.Best
	if q.Source != SourceAMM || q.IsEstimate {
		t.Fatalf("expected executable amm quote, got %+v", q)
	}
	if q.OutputAmount.Int64() != 19 || q.Route.Pool != "deep" {
		t.Fatalf("unexpected amm quote %s via %s", q.OutputAmount, q.Route.Pool)
	}
	if q.MinOutput.Cmp(q.OutputAmount) > 0 {
		t.Fatalf("min output above output")
	}
	// 10 / 1000 * 100
	if q.PriceImpact != 1 {
		t.Fatalf("price impact %f, want 1", q.PriceImpact)
	}
}

func TestPriceImpactIsCapped(t *testing.T) {
	cases := []struct {
		in, reserve int64
		want        float64
	}{
		{10, 1000, 1},
		{250, 1000, 25},
		{1, 8, 12.5},
		{5000, 1000, 100},
		{0, 1000, 0},
		{10, 0, 0},
	}
	for _, tc := range cases {
		if got := PriceImpact(big.NewInt(tc.in), big.NewInt(tc.reserve)); got != tc.want {
			t.Fatalf("PriceImpact(%d, %d) = %f, want %f", tc.in, tc.reserve, got, tc.want)
		}
	}
}

func TestStaticFallbackIsEstimate(t *testing.T) {
	prices, err := NewStaticPrices(map[string]string{NativeAssetID: "3", assetB.ID: "1"})
	if err != nil {
		t.Fatalf("static prices: %v", err)
	}
	p := &fakeProvider{name: "ston", fee: 30}
	agg, _ := NewAggregator(testCaller(t), []Provider{p}, WithStaticPrices(prices))
	// 2 TON at $3 = 6 USDT = 6_000_000 base units, less 0.3% fee
	res, err := agg.BestQuote(context.Background(), request(2_000_000_000))
	if err != nil {
		t.Fatalf("best quote: %v", err)
	}
	q := res.Best
	if !q.IsEstimate || q.Executable() || q.Source != SourceStatic {
		t.Fatalf("static quote must be a non-executable estimate: %+v", q)
	}
	if q.OutputAmount.Int64() != 5_982_000 {
		t.Fatalf("static output %s", q.OutputAmount)
	}
	cut := q.WithHaircut(agg.EstimateHaircutBps())
	if cut.MinOutput.Cmp(q.MinOutput) >= 0 {
		t.Fatalf("haircut must lower min output")
	}
}

func TestMinOutputNeverExceedsOutput(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	outputs := []int64{1, 2, 99, 10_000, 1 << 40}
	for i := 0; i < 20; i++ {
		outputs = append(outputs, 1+rnd.Int63n(1<<50))
	}
	p := &fakeProvider{name: "ston"}
	agg, _ := NewAggregator(testCaller(t), []Provider{p})
	for _, bps := range []int{1, 100, 2500, MaxSlippageBps} {
		for _, out := range outputs {
			p.out = out
			req := request(100)
			req.SlippageBps = bps
			res, err := agg.BestQuote(context.Background(), req)
			if err != nil {
				t.Fatalf("bps %d output %d: %v", bps, out, err)
			}
			q := res.Best
			if q.MinOutput.Cmp(q.OutputAmount) > 0 || q.MinOutput.Sign() < 0 {
				t.Fatalf("bps %d: min output %s outside [0, %s]", bps, q.MinOutput, q.OutputAmount)
			}
		}
	}
}

func TestLiveBeatsEstimateOnTie(t *testing.T) {
	quotes := []*Quote{
		{ProviderID: "a", OutputAmount: big.NewInt(5), IsEstimate: true},
		{ProviderID: "b", OutputAmount: big.NewInt(5)},
		{ProviderID: "c", OutputAmount: big.NewInt(7), IsEstimate: true},
	}
	sortQuotes(quotes)
	if quotes[0].ProviderID != "c" || quotes[1].ProviderID != "b" || quotes[2].ProviderID != "a" {
		t.Fatalf("unexpected order %s %s %s", quotes[0].ProviderID, quotes[1].ProviderID, quotes[2].ProviderID)
	}
}

func TestValidityWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := &fakeProvider{name: "ston", out: 50}
	agg, _ := NewAggregator(testCaller(t), []Provider{p}, WithClock(func() time.Time { return now }))
	res, err := agg.BestQuote(context.Background(), request(100))
	if err != nil {
		t.Fatalf("best quote: %v", err)
	}
	if !res.Best.ValidUntil.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("valid until %s", res.Best.ValidUntil)
	}
	if res.Best.Expired(now.Add(29*time.Second)) || !res.Best.Expired(now.Add(30*time.Second)) {
		t.Fatalf("expiry boundary wrong")
	}
}

func TestValidityIsClampedToThirtySeconds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := map[time.Duration]time.Duration{
		10 * time.Minute: MaxValidity,
		31 * time.Second: MaxValidity,
		10 * time.Second: 10 * time.Second,
		0:                DefaultValidity,
	}
	for configured, want := range cases {
		agg, _ := NewAggregator(testCaller(t), []Provider{&fakeProvider{name: "ston", out: 50}},
			WithClock(func() time.Time { return now }), WithValidity(configured))
		res, err := agg.BestQuote(context.Background(), request(100))
		if err != nil {
			t.Fatalf("best quote: %v", err)
		}
		if got := res.Best.ValidUntil.Sub(now); got != want {
			t.Fatalf("validity %s configured: quote valid for %s, want %s", configured, got, want)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	agg, _ := NewAggregator(testCaller(t), []Provider{&fakeProvider{name: "x", out: 1}})
	for _, req := range []Request{
		{From: assetA, To: assetA, Amount: big.NewInt(1)},
		{From: assetA, To: assetB, Amount: big.NewInt(0)},
		{From: assetA, To: assetB, Amount: big.NewInt(1), SlippageBps: 9000},
	} {
		if _, err := agg.BestQuote(context.Background(), req); !stderrors.Is(err, werrors.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestRefresherKeepsCountdown(t *testing.T) {
	clock := schedule.NewFakeClock(time.Unix(1_700_000_000, 0))
	p := &fakeProvider{name: "ston", out: 50}
	agg, _ := NewAggregator(testCaller(t), []Provider{p}, WithClock(clock.Now))
	req := request(100)
	r, err := NewRefresher(agg, clock, 10*time.Second, []Request{req}, nil)
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	r.Refresh(context.Background())
	snap, ok := r.Latest(req.Pair())
	if !ok || snap.Quote == nil || snap.Remaining != 30*time.Second {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	clock.Advance(12 * time.Second)
	snap, _ = r.Latest(req.Pair())
	if snap.Remaining != 18*time.Second {
		t.Fatalf("countdown %s", snap.Remaining)
	}
	clock.Advance(time.Minute)
	if snap, ok := r.Latest(req.Pair()); ok || snap.Quote != nil {
		t.Fatalf("expired quote should be dropped")
	}
}
