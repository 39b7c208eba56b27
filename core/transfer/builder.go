package transfer

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"walletkit/core/address"
	"walletkit/core/cell"
	werrors "walletkit/core/errors"
	"walletkit/core/fees"
	"walletkit/core/units"
)

// SwapDeadline is how long a swap action stays executable on chain.
const SwapDeadline = 5 * time.Minute

// Builder produces payloads. Gas and forward values come from the fee policy
// table only.
type Builder struct {
	fees   *fees.Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the time source used for deadlines and query ids.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder validates the fee policy and returns a builder.
func NewBuilder(policy *fees.Policy, opts ...Option) (*Builder, error) {
	if policy == nil {
		return nil, fmt.Errorf("transfer: fee policy required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	b := &Builder{fees: policy, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Fees exposes the policy table.
func (b *Builder) Fees() *fees.Policy { return b.fees }

func (b *Builder) queryID() uint64 {
	return uint64(b.now().UnixMilli())
}

// BuildValueTransfer sends amount of the native coin to dest with an optional
// comment.
func (b *Builder) BuildValueTransfer(acct Account, dest *address.Address, amount *big.Int, comment string) (*Payload, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, werrors.Validation("destination required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, werrors.Validation("amount must be positive")
	}
	budget, err := b.fees.Budget(acct.Variant, fees.OpValueTransfer)
	if err != nil {
		return nil, err
	}
	var body *cell.Cell
	if comment != "" {
		if body, err = CommentCell(comment); err != nil {
			return nil, err
		}
	}
	msg := Message{
		Destination: dest,
		Amount:      new(big.Int).Set(amount),
		Bounce:      dest.Bounceable(),
		Body:        body,
		Mode:        ModeDefault,
	}
	return newPayload(fees.OpValueTransfer, acct.Variant, budget.Gas, msg), nil
}

// TokenTransfer describes a token transfer in human units.
type TokenTransfer struct {
	// TokenWallet is the sender's own token sub-account.
	TokenWallet *address.Address
	Destination *address.Address
	Amount      string
	Decimals    int
	Comment     string
}

// BuildTokenTransfer encodes a standard token transfer addressed to the
// sender's token sub-account. The amount is scaled to base units exactly,
// rounding half up past the token precision.
func (b *Builder) BuildTokenTransfer(acct Account, t TokenTransfer) (*Payload, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if t.TokenWallet == nil || t.Destination == nil {
		return nil, werrors.Validation("token wallet and destination required")
	}
	amount, err := units.ToUnitsRounded(t.Amount, t.Decimals)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, werrors.Validation("amount must be positive")
	}
	budget, err := b.fees.Budget(acct.Variant, fees.OpTokenTransfer)
	if err != nil {
		return nil, err
	}
	var forward *cell.Cell
	if t.Comment != "" {
		if forward, err = CommentCell(t.Comment); err != nil {
			return nil, err
		}
	}
	body, err := jettonTransferBody(jettonTransfer{
		QueryID:     b.queryID(),
		Amount:      amount,
		Destination: t.Destination,
		Response:    acct.Address,
		ForwardTON:  budget.Forward,
		Forward:     forward,
	})
	if err != nil {
		return nil, err
	}
	msg := Message{
		Destination: t.TokenWallet,
		Amount:      budget.Attach,
		Bounce:      true,
		Body:        body,
		Mode:        ModeDefault,
	}
	p := newPayload(fees.OpTokenTransfer, acct.Variant, budget.Gas, msg)
	b.logger.Debug("token transfer built",
		slog.String("variant", acct.Variant.String()),
		slog.String("units", amount.String()),
		slog.String("forward", budget.Forward.String()))
	return p, nil
}

type jettonTransfer struct {
	QueryID     uint64
	Amount      *big.Int
	Destination *address.Address
	Response    *address.Address
	ForwardTON  *big.Int
	Forward     *cell.Cell
}

// jettonTransferBody encodes transfer#0f8a7ea5. The forward payload is stored
// as a reference when present.
func jettonTransferBody(t jettonTransfer) (*cell.Cell, error) {
	b := cell.NewBuilder().
		StoreUint(uint64(OpJettonTransfer), 32).
		StoreUint(t.QueryID, 64).
		StoreCoins(t.Amount).
		StoreAddress(t.Destination).
		StoreAddress(t.Response).
		StoreBit(false). // no custom payload
		StoreCoins(t.ForwardTON)
	if t.Forward == nil {
		b.StoreBit(false)
	} else {
		b.StoreBit(true).StoreRef(t.Forward)
	}
	c, err := b.EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode token transfer: %w", err)
	}
	return c, nil
}
