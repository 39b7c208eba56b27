package providers

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"walletkit/core/quote"
)

// dedustEstimate is the /v2/routing/estimate response.
type dedustEstimate struct {
	AmountIn    string `json:"amountIn"`
	AmountOut   string `json:"amountOut"`
	TradeFee    string `json:"tradeFee"`
	PriceImpact string `json:"priceImpact"`
	Pool        struct {
		Address string `json:"address"`
	} `json:"pool"`
	Vault string `json:"vault"`
}

type dedustPool struct {
	Address  string        `json:"address"`
	Type     string        `json:"type"`
	TradeFee string        `json:"tradeFee"`
	Assets   []dedustAsset `json:"assets"`
	Reserves []string      `json:"reserves"`
	Vaults   []string      `json:"vaults"`
}

type dedustAsset struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

func (a dedustAsset) id() string {
	if a.Type == "native" {
		return quote.NativeAssetID
	}
	return strings.ToLower(a.Address)
}

// Dedust adapts the DeDust style API.
type Dedust struct {
	name     string
	endpoint string
	feeBps   int
	client   *http.Client
}

// NewDedust constructs the adapter.
func NewDedust(client *http.Client, name, endpoint string, feeBps int) *Dedust {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Dedust{name: label(name, "dedust"), endpoint: strings.TrimRight(endpoint, "/"), feeBps: feeBps, client: client}
}

func (d *Dedust) Name() string { return d.name }
func (d *Dedust) FeeBps() int  { return d.feeBps }

func dedustAssetParam(a quote.Asset) string {
	if a.Native() {
		return "native"
	}
	return "jetton:" + a.ID
}

// Quote calls the live routing estimator.
func (d *Dedust) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	q := url.Values{}
	q.Set("from", dedustAssetParam(req.From))
	q.Set("to", dedustAssetParam(req.To))
	q.Set("amount", req.Amount.String())
	var est dedustEstimate
	if err := getJSON(ctx, d.client, d.endpoint+"/v2/routing/estimate", q, &est); err != nil {
		return nil, err
	}
	out, err := parseUnits("amountOut", est.AmountOut)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 || est.Pool.Address == "" {
		return nil, quote.ErrNoPool
	}
	fee := new(big.Int)
	if est.TradeFee != "" {
		if fee, err = parseUnits("tradeFee", est.TradeFee); err != nil {
			return nil, err
		}
	}
	return &quote.Quote{
		OutputAmount: out,
		FeeEstimate:  fee,
		PriceImpact:  parsePercent(est.PriceImpact),
		Route:        quote.Route{Pool: est.Pool.Address, Vault: est.Vault},
	}, nil
}

// Pools lists volatile pools holding both assets.
func (d *Dedust) Pools(ctx context.Context, from, to quote.Asset) ([]quote.Pool, error) {
	var list []dedustPool
	if err := getJSON(ctx, d.client, d.endpoint+"/v2/pools", nil, &list); err != nil {
		return nil, err
	}
	in, out := strings.ToLower(from.ID), strings.ToLower(to.ID)
	var pools []quote.Pool
	for _, p := range list {
		if !strings.EqualFold(p.Type, "volatile") || len(p.Assets) != 2 || len(p.Reserves) != 2 {
			continue
		}
		var inIdx, outIdx int
		switch {
		case p.Assets[0].id() == in && p.Assets[1].id() == out:
			inIdx, outIdx = 0, 1
		case p.Assets[1].id() == in && p.Assets[0].id() == out:
			inIdx, outIdx = 1, 0
		default:
			continue
		}
		reserveIn, err := parseUnits("reserve", p.Reserves[inIdx])
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address, err)
		}
		reserveOut, err := parseUnits("reserve", p.Reserves[outIdx])
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address, err)
		}
		fee := d.feeBps
		if p.TradeFee != "" {
			// tradeFee is a percentage, e.g. "0.25".
			fee = int(math.Round(parsePercent(p.TradeFee) * 100))
		}
		route := quote.Route{Pool: p.Address}
		if len(p.Vaults) == 2 {
			route.Vault = p.Vaults[inIdx]
		}
		pools = append(pools, quote.Pool{Address: p.Address, ReserveIn: reserveIn, ReserveOut: reserveOut, FeeBps: fee, Route: route})
	}
	if len(pools) == 0 {
		return nil, quote.ErrNoPool
	}
	return pools, nil
}
