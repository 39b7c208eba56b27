package submit

import (
	"math/big"
	"time"

	"walletkit/core/address"
	werrors "walletkit/core/errors"
	"walletkit/core/quote"
	"walletkit/core/transfer"
)

// Intent is one requested action. The set is closed: ValueTransfer,
// TokenTransfer and Swap.
type Intent interface {
	build(s *Submitter, acct transfer.Account, now time.Time) (*transfer.Payload, error)
}

// ValueTransfer sends native coin.
type ValueTransfer struct {
	Destination *address.Address
	Amount      *big.Int
	Comment     string
}

func (v ValueTransfer) build(s *Submitter, acct transfer.Account, _ time.Time) (*transfer.Payload, error) {
	return s.builder.BuildValueTransfer(acct, v.Destination, v.Amount, v.Comment)
}

// TokenTransfer sends a token in human units.
type TokenTransfer transfer.TokenTransfer

func (t TokenTransfer) build(s *Submitter, acct transfer.Account, _ time.Time) (*transfer.Payload, error) {
	return s.builder.BuildTokenTransfer(acct, transfer.TokenTransfer(t))
}

// Swap executes a quote. Estimate quotes are refused unless ConfirmEstimate
// is set, in which case the estimate haircut is taken from the minimum
// output first.
type Swap struct {
	Protocol        transfer.Protocol
	Quote           *quote.Quote
	TokenWallet     *address.Address
	ConfirmEstimate bool
}

func (w Swap) build(s *Submitter, acct transfer.Account, now time.Time) (*transfer.Payload, error) {
	q := w.Quote
	if q == nil {
		return nil, werrors.Validation("swap quote required")
	}
	if err := q.Validate(); err != nil {
		return nil, werrors.Validation("%v", err)
	}
	if q.Expired(now) {
		return nil, &werrors.Error{
			Category: werrors.CategoryValidation,
			Message:  "quote expired",
			Remedy:   "fetch a fresh quote and try again",
		}
	}
	if !q.Executable() {
		if !w.ConfirmEstimate {
			return nil, &werrors.Error{
				Category: werrors.CategoryValidation,
				Message:  "quote is an estimate and is not backed by a pool",
				Remedy:   "confirm the estimate explicitly or try again later",
			}
		}
		q = q.WithHaircut(s.haircutBps)
	}
	return s.builder.BuildSwapPayload(acct, transfer.SwapFromQuote(w.Protocol, q, w.TokenWallet))
}
