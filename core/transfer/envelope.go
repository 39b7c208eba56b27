package transfer

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"walletkit/core/address"
	"walletkit/core/cell"
	werrors "walletkit/core/errors"
	"walletkit/core/ids"
	"walletkit/core/wallet"
)

const (
	// DefaultTTL is how long a standard envelope stays valid.
	DefaultTTL = 60 * time.Second
	// DefaultHighloadTimeout is the replay window of a high-throughput envelope.
	DefaultHighloadTimeout = time.Hour
	// SignatureSize is the ed25519 signature length.
	SignatureSize = 64

	maxHighloadTimeout = (1<<22 - 1) * time.Second
)

// TimestampOffsets are the created_at offsets tried in order when the network
// rejects a high-throughput envelope's timestamp window.
var TimestampOffsets = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 180 * time.Second}

// EnvelopeParams carry the replay protection fields. Standard variants use
// Seqno and ValidUntil; the high-throughput variant uses QueryID, CreatedAt
// and Timeout.
type EnvelopeParams struct {
	Seqno      uint32
	ValidUntil time.Time
	QueryID    ids.CompositeID
	CreatedAt  time.Time
	Timeout    time.Duration
}

// UnsignedEnvelope is an encoded envelope awaiting its signature.
type UnsignedEnvelope struct {
	Account Account
	Payload *Payload
	Params  EnvelopeParams
	signed  *cell.Cell
}

// SigningHash is the digest the account key must sign.
func (e *UnsignedEnvelope) SigningHash() []byte { return e.signed.Hash() }

// SignedEnvelope is a complete external message ready for submission.
type SignedEnvelope struct {
	Destination *address.Address
	Value       *big.Int
	Message     *cell.Cell
	BOC         []byte
}

// Base64 renders the serialized message.
func (s *SignedEnvelope) Base64() string { return base64.StdEncoding.EncodeToString(s.BOC) }

// Hash is the external message hash, used as the submission reference.
func (s *SignedEnvelope) Hash() string { return s.Message.HashHex() }

// Envelope encodes p for the account variant.
func (b *Builder) Envelope(acct Account, p *Payload, params EnvelopeParams) (*UnsignedEnvelope, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if p == nil || len(p.Messages) == 0 {
		return nil, werrors.Validation("envelope needs at least one message")
	}
	if p.Variant != acct.Variant {
		return nil, werrors.Validation("payload built for %s cannot be sent from a %s account", p.Variant, acct.Variant)
	}
	if len(p.Messages) > acct.Variant.MaxMessages() {
		return nil, werrors.Validation("%d messages exceed the %s limit of %d", len(p.Messages), acct.Variant, acct.Variant.MaxMessages())
	}
	if acct.Variant.Standard() && params.ValidUntil.IsZero() {
		params.ValidUntil = b.now().Add(DefaultTTL)
	}
	if acct.Variant == wallet.HighThroughput {
		if params.CreatedAt.IsZero() {
			params.CreatedAt = b.now().Add(-TimestampOffsets[0])
		}
		if params.Timeout <= 0 {
			params.Timeout = DefaultHighloadTimeout
		}
	}

	var (
		signed *cell.Cell
		err    error
	)
	switch acct.Variant {
	case wallet.StandardV3, wallet.StandardV4:
		signed, err = encodeV3V4(acct, p, params)
	case wallet.StandardV5:
		signed, err = encodeV5(acct, p, params)
	case wallet.HighThroughput:
		signed, err = encodeHighload(acct, p, params)
	default:
		return nil, werrors.Validation("unsupported account variant %s", acct.Variant)
	}
	if err != nil {
		return nil, err
	}
	return &UnsignedEnvelope{Account: acct, Payload: p, Params: params, signed: signed}, nil
}

func encodeV3V4(acct Account, p *Payload, params EnvelopeParams) (*cell.Cell, error) {
	b := cell.NewBuilder().
		StoreUint(uint64(acct.SubwalletID()), 32).
		StoreUint(uint64(params.ValidUntil.Unix()), 32).
		StoreUint(uint64(params.Seqno), 32)
	if acct.Variant == wallet.StandardV4 {
		b.StoreUint(0, 8) // simple send
	}
	for _, m := range p.Messages {
		msg, err := internalMessage(m)
		if err != nil {
			return nil, err
		}
		b.StoreUint(uint64(m.Mode), 8).StoreRef(msg)
	}
	c, err := b.EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", acct.Variant, err)
	}
	return c, nil
}

func encodeV5(acct Account, p *Payload, params EnvelopeParams) (*cell.Cell, error) {
	actions, err := outList(p.Messages)
	if err != nil {
		return nil, err
	}
	id := wallet.WalletID(acct.Address.Testnet(), acct.Address.Workchain(), acct.Subwallet)
	c, err := cell.NewBuilder().
		StoreUint(uint64(OpSignedExternal), 32).
		StoreUint(uint64(id), 32).
		StoreUint(uint64(params.ValidUntil.Unix()), 32).
		StoreUint(uint64(params.Seqno), 32).
		StoreMaybeRef(actions).
		StoreBit(false). // no extended actions
		EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode v5 envelope: %w", err)
	}
	return c, nil
}

// encodeHighload builds msg_inner: the actions travel in an internal_transfer
// the account sends to itself, tagged with the composite query id.
func encodeHighload(acct Account, p *Payload, params EnvelopeParams) (*cell.Cell, error) {
	if !params.QueryID.Valid() {
		return nil, werrors.Validation("composite id %s out of range", params.QueryID)
	}
	if params.Timeout > maxHighloadTimeout {
		return nil, werrors.Validation("timeout %s exceeds %s", params.Timeout, maxHighloadTimeout)
	}
	if params.CreatedAt.Unix() < 0 {
		return nil, werrors.Validation("created_at before epoch")
	}
	actions, err := outList(p.Messages)
	if err != nil {
		return nil, err
	}
	transfer, err := cell.NewBuilder().
		StoreUint(uint64(OpInternalTransfer), 32).
		StoreUint(0, 64).
		StoreRef(actions).
		EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode internal transfer: %w", err)
	}
	self, err := internalMessage(Message{
		Destination: acct.Address,
		Amount:      p.GasBudget,
		Bounce:      true,
		Body:        transfer,
		Mode:        ModeDefault,
	})
	if err != nil {
		return nil, err
	}
	c, err := cell.NewBuilder().
		StoreUint(uint64(acct.SubwalletID()), 32).
		StoreRef(self).
		StoreUint(uint64(ModeDefault), 8).
		StoreUint(uint64(params.QueryID.Window), 13).
		StoreUint(uint64(params.QueryID.Slot), 10).
		StoreUint(uint64(params.CreatedAt.Unix()), 64).
		StoreUint(uint64(params.Timeout/time.Second), 22).
		EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode highload envelope: %w", err)
	}
	return c, nil
}

// Seal attaches the signature and wraps the body in an external message.
func (e *UnsignedEnvelope) Seal(signature []byte) (*SignedEnvelope, error) {
	if len(signature) != SignatureSize {
		return nil, werrors.Validation("signature must be %d bytes, got %d", SignatureSize, len(signature))
	}
	var (
		body *cell.Cell
		err  error
	)
	switch e.Account.Variant {
	case wallet.StandardV5:
		body, err = cell.NewBuilder().StoreSlice(e.signed).StoreBytes(signature).EndCell()
	case wallet.HighThroughput:
		body, err = cell.NewBuilder().StoreBytes(signature).StoreRef(e.signed).EndCell()
	default:
		body, err = cell.NewBuilder().StoreBytes(signature).StoreSlice(e.signed).EndCell()
	}
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}
	msg, err := externalMessage(e.Account.Address, body)
	if err != nil {
		return nil, err
	}
	return &SignedEnvelope{
		Destination: e.Account.Address,
		Value:       new(big.Int).Set(e.Payload.AttachedValue),
		Message:     msg,
		BOC:         cell.Serialize(msg),
	}, nil
}
