package transfer

import (
	"fmt"
	"math/big"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"walletkit/core/address"
	"walletkit/core/cell"
	werrors "walletkit/core/errors"
)

// Operation codes.
const (
	OpComment              uint32 = 0x00000000
	OpJettonTransfer       uint32 = 0x0f8a7ea5
	OpTransferNotification uint32 = 0x7362d09c
	OpInternalTransfer     uint32 = 0xae42e5a4
	OpActionSendMsg        uint32 = 0x0ec3c86d
	OpSignedExternal       uint32 = 0x7369676e
	OpDedustSwapNative     uint32 = 0xea06185d
	OpDedustSwapJetton     uint32 = 0xe3a0d482
	OpStonSwap             uint32 = 0x25938561
)

// MaxCommentBytes bounds the normalised comment length.
const MaxCommentBytes = 1000

// CommentCell encodes a text comment: a zero op followed by the NFC
// normalised UTF-8 text in a snake chain.
func CommentCell(text string) (*cell.Cell, error) {
	if !utf8.ValidString(text) {
		return nil, werrors.Validation("comment is not valid UTF-8")
	}
	normalized := norm.NFC.String(text)
	if len(normalized) > MaxCommentBytes {
		return nil, werrors.Validation("comment exceeds %d bytes", MaxCommentBytes)
	}
	return cell.NewBuilder().
		StoreUint(uint64(OpComment), 32).
		StoreSnakeBytes([]byte(normalized)).
		EndCell()
}

// DecodeComment reverses CommentCell. ok is false for non-comment bodies.
func DecodeComment(c *cell.Cell) (string, bool) {
	if c == nil || c.BitsLen() < 32 {
		return "", false
	}
	data := c.Data()
	if data[0] != 0 || data[1] != 0 || data[2] != 0 || data[3] != 0 {
		return "", false
	}
	var out []byte
	out = append(out, data[4:c.BitsLen()/8]...)
	for next := c.Refs(); len(next) > 0; {
		child := next[0]
		out = append(out, child.Data()[:child.BitsLen()/8]...)
		next = child.Refs()
	}
	if !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// TokenMovement is a decoded token transfer or incoming transfer notification.
type TokenMovement struct {
	Incoming     bool
	Amount       *big.Int
	Counterparty *address.Address
	Comment      string
}

// DecodeTokenBody recognises transfer#0f8a7ea5 (outgoing) and
// transfer_notification#7362d09c (incoming) bodies.
func DecodeTokenBody(c *cell.Cell) (*TokenMovement, bool) {
	if c == nil || c.BitsLen() < 32 {
		return nil, false
	}
	s := c.BeginParse()
	op := uint32(s.LoadUint(32))
	if op != OpJettonTransfer && op != OpTransferNotification {
		return nil, false
	}
	s.LoadUint(64)
	m := &TokenMovement{Incoming: op == OpTransferNotification, Amount: s.LoadCoins(), Counterparty: s.LoadAddress()}
	var forward *cell.Cell
	if m.Incoming {
		if s.LoadBit() {
			forward = s.LoadRef()
		} else if s.BitsLeft() >= 32 && s.LoadUint(32) == uint64(OpComment) {
			tail := make([]byte, 0, s.BitsLeft()/8)
			for s.BitsLeft() >= 8 {
				tail = append(tail, byte(s.LoadUint(8)))
			}
			if utf8.Valid(tail) {
				m.Comment = string(tail)
			}
		}
	} else {
		s.LoadAddress()
		s.LoadMaybeRef()
		s.LoadCoins()
		forward = s.LoadMaybeRef()
	}
	if s.Err() != nil {
		return nil, false
	}
	if text, ok := DecodeComment(forward); ok {
		m.Comment = text
	}
	return m, true
}

// internalMessage encodes a MessageRelaxed with an int_msg_info header. The
// body is stored as a reference when present.
func internalMessage(m Message) (*cell.Cell, error) {
	if m.Destination == nil {
		return nil, werrors.Validation("message destination required")
	}
	if m.Amount == nil || m.Amount.Sign() < 0 {
		return nil, werrors.Validation("message amount must not be negative")
	}
	b := cell.NewBuilder().
		StoreBit(false). // int_msg_info$0
		StoreBit(true).  // ihr_disabled
		StoreBit(m.Bounce).
		StoreBit(false). // bounced
		StoreAddress(nil).
		StoreAddress(m.Destination).
		StoreCoins(m.Amount).
		StoreBit(false). // no extra currencies
		StoreCoinsUint(0).
		StoreCoinsUint(0).
		StoreUint(0, 64).
		StoreUint(0, 32).
		StoreBit(false) // no state init
	if m.Body == nil {
		b.StoreBit(false)
	} else {
		b.StoreBit(true).StoreRef(m.Body)
	}
	c, err := b.EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode internal message: %w", err)
	}
	return c, nil
}

// externalMessage wraps body into an ext_in_msg_info message to dest.
func externalMessage(dest *address.Address, body *cell.Cell) (*cell.Cell, error) {
	c, err := cell.NewBuilder().
		StoreUint(0b10, 2).
		StoreAddress(nil).
		StoreAddress(dest).
		StoreCoins(new(big.Int)).
		StoreBit(false). // no state init
		StoreBit(true).
		StoreRef(body).
		EndCell()
	if err != nil {
		return nil, fmt.Errorf("encode external message: %w", err)
	}
	return c, nil
}

// outList encodes an OutList of action_send_msg entries, oldest first.
func outList(msgs []Message) (*cell.Cell, error) {
	list, err := cell.NewBuilder().EndCell()
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		msg, err := internalMessage(m)
		if err != nil {
			return nil, err
		}
		list, err = cell.NewBuilder().
			StoreRef(list).
			StoreUint(uint64(OpActionSendMsg), 32).
			StoreUint(uint64(m.Mode), 8).
			StoreRef(msg).
			EndCell()
		if err != nil {
			return nil, fmt.Errorf("encode out list: %w", err)
		}
	}
	return list, nil
}
