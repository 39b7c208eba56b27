package providers

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"walletkit/core/quote"
)

// stonSimulation is the /v1/swap/simulate response.
type stonSimulation struct {
	OfferAddress      string `json:"offer_address"`
	AskAddress        string `json:"ask_address"`
	RouterAddress     string `json:"router_address"`
	PoolAddress       string `json:"pool_address"`
	OfferUnits        string `json:"offer_units"`
	AskUnits          string `json:"ask_units"`
	MinAskUnits       string `json:"min_ask_units"`
	FeeUnits          string `json:"fee_units"`
	PriceImpact       string `json:"price_impact"`
	RouterOfferWallet string `json:"router_offer_jetton_wallet"`
	RouterAskWallet   string `json:"router_ask_jetton_wallet"`
}

type stonPoolList struct {
	Pools []stonPool `json:"pool_list"`
}

type stonPool struct {
	Address    string `json:"address"`
	Router     string `json:"router_address"`
	Token0     string `json:"token0_address"`
	Token1     string `json:"token1_address"`
	Reserve0   string `json:"reserve0"`
	Reserve1   string `json:"reserve1"`
	LPFeeBps   string `json:"lp_fee"`
	Deprecated bool   `json:"deprecated"`
	Wallet0    string `json:"router_token0_wallet"`
	Wallet1    string `json:"router_token1_wallet"`
}

// Ston adapts the STON.fi style API. The native coin trades through a proxy
// token whose master address is nativeProxy.
type Ston struct {
	name        string
	endpoint    string
	feeBps      int
	nativeProxy string
	client      *http.Client
}

// NewSton constructs the adapter.
func NewSton(client *http.Client, name, endpoint string, feeBps int, nativeProxy string) *Ston {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Ston{
		name:        label(name, "ston"),
		endpoint:    strings.TrimRight(endpoint, "/"),
		feeBps:      feeBps,
		nativeProxy: strings.TrimSpace(nativeProxy),
		client:      client,
	}
}

func (s *Ston) Name() string { return s.name }
func (s *Ston) FeeBps() int  { return s.feeBps }

func (s *Ston) assetAddress(a quote.Asset) string {
	if a.Native() {
		return s.nativeProxy
	}
	return a.ID
}

// Quote calls the live simulator.
func (s *Ston) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	q := url.Values{}
	q.Set("offer_address", s.assetAddress(req.From))
	q.Set("ask_address", s.assetAddress(req.To))
	q.Set("units", req.Amount.String())
	q.Set("slippage_tolerance", strconv.FormatFloat(float64(slippageOrDefault(req.SlippageBps))/10_000, 'f', -1, 64))
	var sim stonSimulation
	if err := getJSON(ctx, s.client, s.endpoint+"/v1/swap/simulate", q, &sim); err != nil {
		return nil, err
	}
	out, err := parseUnits("ask_units", sim.AskUnits)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 || sim.PoolAddress == "" {
		return nil, quote.ErrNoPool
	}
	fee := new(big.Int)
	if sim.FeeUnits != "" {
		if fee, err = parseUnits("fee_units", sim.FeeUnits); err != nil {
			return nil, err
		}
	}
	return &quote.Quote{
		OutputAmount: out,
		FeeEstimate:  fee,
		PriceImpact:  parsePercent(sim.PriceImpact) * 100,
		Route: quote.Route{
			Pool:         sim.PoolAddress,
			Router:       sim.RouterAddress,
			RouterWallet: sim.RouterOfferWallet,
			AskWallet:    sim.RouterAskWallet,
		},
	}, nil
}

// Pools lists pools holding both assets, oriented in the trade direction.
func (s *Ston) Pools(ctx context.Context, from, to quote.Asset) ([]quote.Pool, error) {
	var list stonPoolList
	if err := getJSON(ctx, s.client, s.endpoint+"/v1/pools", nil, &list); err != nil {
		return nil, err
	}
	in, out := strings.ToLower(s.assetAddress(from)), strings.ToLower(s.assetAddress(to))
	var pools []quote.Pool
	for _, p := range list.Pools {
		if p.Deprecated {
			continue
		}
		t0, t1 := strings.ToLower(p.Token0), strings.ToLower(p.Token1)
		var rin, rout, offerWallet, askWallet string
		switch {
		case t0 == in && t1 == out:
			rin, rout, offerWallet, askWallet = p.Reserve0, p.Reserve1, p.Wallet0, p.Wallet1
		case t1 == in && t0 == out:
			rin, rout, offerWallet, askWallet = p.Reserve1, p.Reserve0, p.Wallet1, p.Wallet0
		default:
			continue
		}
		reserveIn, err := parseUnits("reserve", rin)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address, err)
		}
		reserveOut, err := parseUnits("reserve", rout)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address, err)
		}
		fee := s.feeBps
		if v, err := strconv.Atoi(strings.TrimSpace(p.LPFeeBps)); err == nil && v >= 0 {
			fee = v
		}
		pools = append(pools, quote.Pool{
			Address:    p.Address,
			ReserveIn:  reserveIn,
			ReserveOut: reserveOut,
			FeeBps:     fee,
			Route:      quote.Route{Pool: p.Address, Router: p.Router, RouterWallet: offerWallet, AskWallet: askWallet},
		})
	}
	if len(pools) == 0 {
		return nil, quote.ErrNoPool
	}
	return pools, nil
}

func slippageOrDefault(bps int) int {
	if bps <= 0 {
		return quote.DefaultSlippageBps
	}
	return bps
}
