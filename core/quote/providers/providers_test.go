package providers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	werrors "walletkit/core/errors"
	"walletkit/core/quote"
	"walletkit/resilience"
)

const (
	usdt  = "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs"
	pton  = "EQCM3B12QK1e4yZSf8GtBRT0aLMNyEsBc_DhVfRRtOEffLez"
	poolA = "EQA-X_yo3fzzbDbJ_0bzFWKqtRuZFIRa1sJsveZJ1YpViO3r"
)

var (
	ton    = quote.Asset{ID: quote.NativeAssetID, Symbol: "TON", Decimals: 9}
	tether = quote.Asset{ID: usdt, Symbol: "USDT", Decimals: 6}
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestStonQuoteUsesNativeProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/swap/simulate", r.URL.Path)
		require.Equal(t, pton, r.URL.Query().Get("offer_address"))
		require.Equal(t, usdt, r.URL.Query().Get("ask_address"))
		require.Equal(t, "1000000000", r.URL.Query().Get("units"))
		require.Equal(t, "0.01", r.URL.Query().Get("slippage_tolerance"))
		writeJSON(w, map[string]string{
			"pool_address":               poolA,
			"router_address":             "EQrouter",
			"ask_units":                  "5210000",
			"fee_units":                  "15630",
			"price_impact":               "0.0012",
			"router_offer_jetton_wallet": "EQofferwallet",
			"router_ask_jetton_wallet":   "EQaskwallet",
		})
	}))
	defer srv.Close()

	s := NewSton(srv.Client(), "", srv.URL+"/", 30, pton)
	require.Equal(t, "ston", s.Name())
	q, err := s.Quote(context.Background(), quote.Request{From: ton, To: tether, Amount: big.NewInt(1_000_000_000)})
	require.NoError(t, err)
	require.Equal(t, "5210000", q.OutputAmount.String())
	require.Equal(t, "15630", q.FeeEstimate.String())
	require.InDelta(t, 0.12, q.PriceImpact, 1e-9)
	require.Equal(t, poolA, q.Route.Pool)
	require.Equal(t, "EQofferwallet", q.Route.RouterWallet)
	require.Equal(t, "EQaskwallet", q.Route.AskWallet)
}

func TestStonPoolsOrientReserves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"pool_list": []map[string]any{
			{"address": "old", "token0_address": usdt, "token1_address": pton, "reserve0": "1", "reserve1": "1", "deprecated": true},
			{"address": poolA, "token0_address": usdt, "token1_address": pton, "reserve0": "2000", "reserve1": "1000", "lp_fee": "20",
				"router_token0_wallet": "w-usdt", "router_token1_wallet": "w-pton"},
			{"address": "other", "token0_address": "EQsomething", "token1_address": pton, "reserve0": "5", "reserve1": "5"},
		}})
	}))
	defer srv.Close()

	pools, err := NewSton(srv.Client(), "ston", srv.URL, 30, pton).Pools(context.Background(), ton, tether)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	p := pools[0]
	require.Equal(t, "1000", p.ReserveIn.String())
	require.Equal(t, "2000", p.ReserveOut.String())
	require.Equal(t, 20, p.FeeBps)
	require.Equal(t, "w-pton", p.Route.RouterWallet)
	require.Equal(t, "w-usdt", p.Route.AskWallet)
}

func TestDedustQuoteAndPools(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/routing/estimate", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "native", r.URL.Query().Get("from"))
		require.Equal(t, "jetton:"+usdt, r.URL.Query().Get("to"))
		writeJSON(w, map[string]any{
			"amountOut":   "5190000",
			"tradeFee":    "2500000",
			"priceImpact": "0.2",
			"pool":        map[string]string{"address": poolA},
			"vault":       "EQnativevault",
		})
	})
	mux.HandleFunc("/v2/pools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"address": "stable", "type": "stable", "assets": []map[string]string{{"type": "native"}, {"type": "jetton", "address": usdt}}, "reserves": []string{"1", "1"}},
			{"address": poolA, "type": "volatile", "tradeFee": "0.25",
				"assets":   []map[string]string{{"type": "native"}, {"type": "jetton", "address": usdt}},
				"reserves": []string{"1000", "3000"},
				"vaults":   []string{"EQnativevault", "EQjettonvault"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDedust(srv.Client(), "dedust", srv.URL, 25)
	q, err := d.Quote(context.Background(), quote.Request{From: ton, To: tether, Amount: big.NewInt(1_000_000_000)})
	require.NoError(t, err)
	require.Equal(t, "5190000", q.OutputAmount.String())
	require.Equal(t, "EQnativevault", q.Route.Vault)

	pools, err := d.Pools(context.Background(), ton, tether)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, 25, pools[0].FeeBps)
	require.Equal(t, "3000", pools[0].ReserveOut.String())
	require.Equal(t, "EQnativevault", pools[0].Route.Vault)

	reversed, err := d.Pools(context.Background(), tether, ton)
	require.NoError(t, err)
	require.Equal(t, "3000", reversed[0].ReserveIn.String())
	require.Equal(t, "EQjettonvault", reversed[0].Route.Vault)
}

func TestHTTPStatusIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	_, err := NewDedust(srv.Client(), "dedust", srv.URL, 25).Quote(context.Background(), quote.Request{From: ton, To: tether, Amount: big.NewInt(1)})
	var status *resilience.StatusError
	require.True(t, stderrors.As(err, &status))
	require.Equal(t, 3*time.Second, status.RetryAfter)
	require.Equal(t, werrors.CategoryRateLimit, resilience.NewClassifier(nil).Classify(err))
}

func TestEmptySimulationMeansNoPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"ask_units": "0"})
	}))
	defer srv.Close()
	_, err := NewSton(srv.Client(), "ston", srv.URL, 30, pton).Quote(context.Background(), quote.Request{From: ton, To: tether, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, quote.ErrNoPool)
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry()
	p, err := r.Build(Config{Name: "dedust-main", Type: "DeDust", Endpoint: "https://api.dedust.io", FeeBps: 25})
	require.NoError(t, err)
	require.Equal(t, "dedust-main", p.Name())
	require.Equal(t, 25, p.FeeBps())

	_, err = r.Build(Config{Name: "ston", Type: "ston", Endpoint: "https://api.ston.fi"})
	require.Error(t, err)
	_, err = r.Build(Config{Name: "x", Type: "uniswap", Endpoint: "https://example.invalid"})
	require.Error(t, err)
	_, err = r.Build(Config{Name: "x", Type: "dedust"})
	require.Error(t, err)

	all, err := r.BuildAll([]Config{
		{Name: "ston", Type: "stonfi", Endpoint: "https://api.ston.fi", FeeBps: 30, NativeProxy: pton},
		{Name: "dedust", Type: "dedust", Endpoint: "https://api.dedust.io", FeeBps: 25},
	})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
