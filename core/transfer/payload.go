// Package transfer encodes transfers, token transfers and exchange swaps into
// the exact message layout each account variant expects.
package transfer

import (
	"fmt"
	"math/big"
	"time"

	"walletkit/core/address"
	"walletkit/core/cell"
	werrors "walletkit/core/errors"
	"walletkit/core/fees"
	"walletkit/core/wallet"
)

// Send modes understood by every variant.
const (
	ModePayFeesSeparately uint8 = 1
	ModeIgnoreErrors      uint8 = 2
	ModeDefault           uint8 = ModePayFeesSeparately | ModeIgnoreErrors
)

// Account is the sending account.
type Account struct {
	Address   *address.Address
	Variant   wallet.Variant
	Subwallet uint32
}

// Validate checks the account fields.
func (a Account) Validate() error {
	if a.Address == nil {
		return werrors.Validation("account address required")
	}
	if !a.Variant.Valid() {
		return werrors.Validation("unsupported account variant %s", a.Variant)
	}
	return nil
}

// SubwalletID resolves the subwallet, falling back to the variant default.
func (a Account) SubwalletID() uint32 {
	if a.Subwallet != 0 {
		return a.Subwallet
	}
	return a.Variant.DefaultSubwallet(a.Address.Workchain())
}

// Message is one outgoing internal message.
type Message struct {
	Destination *address.Address
	Amount      *big.Int
	Bounce      bool
	Body        *cell.Cell
	Mode        uint8
}

// Payload is a built transfer before envelope encoding. It is produced fresh
// per submission and carries the routing metadata callers display.
type Payload struct {
	Op            fees.OpKind
	Variant       wallet.Variant
	Messages      []Message
	Destination   *address.Address
	AttachedValue *big.Int
	GasBudget     *big.Int
	Mode          uint8
	Deadline      time.Time
}

// Cost is the native amount the account must hold: attached value plus the
// gas budget.
func (p *Payload) Cost() *big.Int {
	return new(big.Int).Add(p.AttachedValue, p.GasBudget)
}

func newPayload(op fees.OpKind, v wallet.Variant, gas *big.Int, msgs ...Message) *Payload {
	p := &Payload{
		Op:            op,
		Variant:       v,
		Messages:      msgs,
		AttachedValue: new(big.Int),
		GasBudget:     new(big.Int).Set(gas),
		Mode:          ModeDefault,
	}
	for _, m := range msgs {
		p.AttachedValue.Add(p.AttachedValue, m.Amount)
	}
	if len(msgs) > 0 {
		p.Destination = msgs[0].Destination
	}
	return p
}

// Merge concatenates payloads for the same variant into one batch. The gas
// budget is the largest of the parts; attached values add up.
func Merge(parts ...*Payload) (*Payload, error) {
	if len(parts) == 0 {
		return nil, werrors.Validation("nothing to merge")
	}
	v := parts[0].Variant
	gas := new(big.Int)
	var msgs []Message
	for _, p := range parts {
		if p.Variant != v {
			return nil, werrors.Validation("cannot merge %s and %s payloads", v, p.Variant)
		}
		msgs = append(msgs, p.Messages...)
		if p.GasBudget.Cmp(gas) > 0 {
			gas.Set(p.GasBudget)
		}
	}
	if len(msgs) > v.MaxMessages() {
		return nil, werrors.Validation("%d messages exceed the %s limit of %d", len(msgs), v, v.MaxMessages())
	}
	merged := newPayload(parts[0].Op, v, gas, msgs...)
	for _, p := range parts[1:] {
		if p.Op != merged.Op {
			merged.Op = fees.OpValueTransfer
		}
	}
	return merged, nil
}

// Split chunks messages into groups no larger than the variant capacity.
func Split(v wallet.Variant, msgs []Message) ([][]Message, error) {
	limit := v.MaxMessages()
	if limit <= 0 {
		return nil, fmt.Errorf("transfer: unsupported variant %s", v)
	}
	var out [][]Message
	for len(msgs) > 0 {
		n := limit
		if n > len(msgs) {
			n = len(msgs)
		}
		out = append(out, msgs[:n:n])
		msgs = msgs[n:]
	}
	return out, nil
}
