package transfer

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"walletkit/core/address"
	"walletkit/core/cell"
	werrors "walletkit/core/errors"
	"walletkit/core/fees"
	"walletkit/core/quote"
)

// Protocol selects the swap action layout.
type Protocol string

const (
	ProtocolDedust Protocol = "dedust"
	ProtocolSton   Protocol = "ston"
)

// ParseProtocol accepts protocol names and common aliases.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dedust":
		return ProtocolDedust, nil
	case "ston", "stonfi", "ston.fi":
		return ProtocolSton, nil
	default:
		return "", werrors.Validation("unknown swap protocol %q", s)
	}
}

// Swap describes one exchange swap in base units.
type Swap struct {
	Protocol  Protocol
	From      quote.Asset
	To        quote.Asset
	Amount    *big.Int
	MinOutput *big.Int
	Route     quote.Route

	// TokenWallet is the sender's token sub-account for the offered token.
	// Required when From is not the native coin.
	TokenWallet *address.Address
}

// SwapFromQuote prepares a swap executing q.
func SwapFromQuote(p Protocol, q *quote.Quote, tokenWallet *address.Address) Swap {
	return Swap{
		Protocol:    p,
		From:        q.SourceAsset,
		To:          q.TargetAsset,
		Amount:      q.InputAmount,
		MinOutput:   q.MinOutput,
		Route:       q.Route,
		TokenWallet: tokenWallet,
	}
}

func (s Swap) direction() fees.Direction {
	if s.From.Native() {
		return fees.DirectionNativeIn
	}
	return fees.DirectionTokenIn
}

func (s Swap) validate() error {
	if s.Amount == nil || s.Amount.Sign() <= 0 {
		return werrors.Validation("swap amount must be positive")
	}
	if s.MinOutput == nil || s.MinOutput.Sign() < 0 {
		return werrors.Validation("swap minimum output must not be negative")
	}
	if strings.EqualFold(s.From.ID, s.To.ID) {
		return werrors.Validation("swap assets must differ")
	}
	if !s.From.Native() && s.TokenWallet == nil {
		return werrors.Validation("token wallet required for a token-in swap")
	}
	return nil
}

func routeAddress(field, raw string) (*address.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, werrors.Validation("swap route is missing the %s address", field)
	}
	return address.Parse(raw)
}

// BuildSwapPayload encodes the provider specific swap. A native-in swap sends
// value plus the action; a token-in swap is a token transfer whose forward
// payload is the action, so the swap only runs once the tokens land.
func (b *Builder) BuildSwapPayload(acct Account, s Swap) (*Payload, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	dir := s.direction()
	op := fees.OpSwapNativeIn
	if dir == fees.DirectionTokenIn {
		op = fees.OpSwapTokenIn
	}
	envelope, err := b.fees.Budget(acct.Variant, op)
	if err != nil {
		return nil, err
	}
	budget, err := b.fees.Swap(string(s.Protocol), dir)
	if err != nil {
		return nil, err
	}
	deadline := b.now().Add(SwapDeadline)

	var msg Message
	switch s.Protocol {
	case ProtocolDedust:
		msg, err = b.dedustMessage(acct, s, budget, uint32(deadline.Unix()))
	case ProtocolSton:
		msg, err = b.stonMessage(acct, s, budget)
	default:
		return nil, werrors.Validation("unknown swap protocol %q", s.Protocol)
	}
	if err != nil {
		return nil, err
	}
	p := newPayload(op, acct.Variant, envelope.Gas, msg)
	p.Deadline = deadline
	b.logger.Debug("swap built",
		slog.String("protocol", string(s.Protocol)),
		slog.String("direction", string(dir)),
		slog.String("amount", s.Amount.String()),
		slog.String("min_output", s.MinOutput.String()))
	return p, nil
}

// dedust: swap#ea06185d (native) or swap#e3a0d482 (token forward payload),
// each followed by a single SwapStep and ^SwapParams.
func (b *Builder) dedustMessage(acct Account, s Swap, budget fees.Budget, deadline uint32) (Message, error) {
	pool, err := routeAddress("pool", s.Route.Pool)
	if err != nil {
		return Message{}, err
	}
	vault, err := routeAddress("vault", s.Route.Vault)
	if err != nil {
		return Message{}, err
	}
	params, err := cell.NewBuilder().
		StoreUint(uint64(deadline), 32).
		StoreAddress(acct.Address). // recipient
		StoreAddress(nil).          // referral
		StoreBit(false).            // fulfill payload
		StoreBit(false).            // reject payload
		EndCell()
	if err != nil {
		return Message{}, fmt.Errorf("encode swap params: %w", err)
	}
	step := func(cb *cell.Builder) *cell.Builder {
		return cb.StoreAddress(pool).
			StoreBit(false). // given in
			StoreCoins(s.MinOutput).
			StoreBit(false) // no next step
	}

	if s.From.Native() {
		body, err := step(cell.NewBuilder().
			StoreUint(uint64(OpDedustSwapNative), 32).
			StoreUint(b.queryID(), 64).
			StoreCoins(s.Amount)).
			StoreRef(params).
			EndCell()
		if err != nil {
			return Message{}, fmt.Errorf("encode native swap: %w", err)
		}
		value := new(big.Int).Add(s.Amount, budget.Attach)
		return Message{Destination: vault, Amount: value, Bounce: true, Body: body, Mode: ModeDefault}, nil
	}

	action, err := step(cell.NewBuilder().StoreUint(uint64(OpDedustSwapJetton), 32)).
		StoreRef(params).
		EndCell()
	if err != nil {
		return Message{}, fmt.Errorf("encode token swap: %w", err)
	}
	body, err := jettonTransferBody(jettonTransfer{
		QueryID:     b.queryID(),
		Amount:      s.Amount,
		Destination: vault,
		Response:    acct.Address,
		ForwardTON:  budget.Forward,
		Forward:     action,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Destination: s.TokenWallet, Amount: budget.Attach, Bounce: true, Body: body, Mode: ModeDefault}, nil
}

// ston: swap#25938561 carried as the forward payload of a token transfer to
// the router. The native coin is sent through the router's proxy token wallet.
func (b *Builder) stonMessage(acct Account, s Swap, budget fees.Budget) (Message, error) {
	router, err := routeAddress("router", s.Route.Router)
	if err != nil {
		return Message{}, err
	}
	askWallet, err := routeAddress("ask wallet", s.Route.AskWallet)
	if err != nil {
		return Message{}, err
	}
	action, err := cell.NewBuilder().
		StoreUint(uint64(OpStonSwap), 32).
		StoreAddress(askWallet).
		StoreCoins(s.MinOutput).
		StoreAddress(acct.Address).
		StoreBit(false). // no referral
		EndCell()
	if err != nil {
		return Message{}, fmt.Errorf("encode ston swap: %w", err)
	}
	body, err := jettonTransferBody(jettonTransfer{
		QueryID:     b.queryID(),
		Amount:      s.Amount,
		Destination: router,
		Response:    acct.Address,
		ForwardTON:  budget.Forward,
		Forward:     action,
	})
	if err != nil {
		return Message{}, err
	}
	if s.From.Native() {
		proxy, err := routeAddress("router wallet", s.Route.RouterWallet)
		if err != nil {
			return Message{}, err
		}
		value := new(big.Int).Add(s.Amount, budget.Attach)
		return Message{Destination: proxy, Amount: value, Bounce: true, Body: body, Mode: ModeDefault}, nil
	}
	return Message{Destination: s.TokenWallet, Amount: budget.Attach, Bounce: true, Body: body, Mode: ModeDefault}, nil
}
