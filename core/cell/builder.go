package cell

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"walletkit/core/address"
)

var (
	ErrBitsOverflow = errors.New("cell: bit capacity exceeded")
	ErrRefsOverflow = errors.New("cell: reference capacity exceeded")
	ErrValueRange   = errors.New("cell: value out of range")
)

// maxCoins is the exclusive bound of a VarUInteger 16 amount.
var maxCoins = new(uint256.Int).Lsh(uint256.NewInt(1), 120)

// Builder accumulates bits and references. The first error is sticky and
// reported by EndCell, so writes can be chained without checks.
type Builder struct {
	data []byte
	bits int
	refs []*Cell
	err  error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// BitsLeft reports remaining data capacity.
func (b *Builder) BitsLeft() int { return MaxBits - b.bits }

// RefsLeft reports remaining reference capacity.
func (b *Builder) RefsLeft() int { return MaxRefs - len(b.refs) }

// Err returns the first error recorded.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) writeBit(bit bool) {
	if b.bits%8 == 0 {
		b.data = append(b.data, 0)
	}
	if bit {
		b.data[len(b.data)-1] |= 1 << (7 - b.bits%8)
	}
	b.bits++
}

func (b *Builder) reserve(n int) bool {
	if b.err != nil {
		return false
	}
	if b.bits+n > MaxBits {
		b.fail(fmt.Errorf("%w: need %d bits, have %d", ErrBitsOverflow, n, b.BitsLeft()))
		return false
	}
	return true
}

// StoreBit appends one bit.
func (b *Builder) StoreBit(bit bool) *Builder {
	if b.reserve(1) {
		b.writeBit(bit)
	}
	return b
}

// StoreUint appends v as an unsigned big-endian integer of the given width.
func (b *Builder) StoreUint(v uint64, bits int) *Builder {
	if bits < 0 || bits > 64 {
		return b.fail(fmt.Errorf("%w: width %d", ErrValueRange, bits))
	}
	if bits < 64 && v>>uint(bits) != 0 {
		return b.fail(fmt.Errorf("%w: %d does not fit in %d bits", ErrValueRange, v, bits))
	}
	if !b.reserve(bits) {
		return b
	}
	for i := bits - 1; i >= 0; i-- {
		b.writeBit(v>>uint(i)&1 == 1)
	}
	return b
}

// StoreInt appends v in two's complement of the given width.
func (b *Builder) StoreInt(v int64, bits int) *Builder {
	if bits <= 0 || bits > 64 {
		return b.fail(fmt.Errorf("%w: width %d", ErrValueRange, bits))
	}
	if bits < 64 {
		limit := int64(1) << uint(bits-1)
		if v < -limit || v >= limit {
			return b.fail(fmt.Errorf("%w: %d does not fit in %d signed bits", ErrValueRange, v, bits))
		}
	}
	u := uint64(v)
	if bits < 64 {
		u &= (uint64(1) << uint(bits)) - 1
	}
	return b.StoreUint(u, bits)
}

// StoreBigUint appends a non-negative integer of up to 256 bits.
func (b *Builder) StoreBigUint(v *big.Int, bits int) *Builder {
	if v == nil || v.Sign() < 0 || bits < 0 || bits > 256 || v.BitLen() > bits {
		return b.fail(fmt.Errorf("%w: big integer for %d bits", ErrValueRange, bits))
	}
	if !b.reserve(bits) {
		return b
	}
	for i := bits - 1; i >= 0; i-- {
		b.writeBit(v.Bit(i) == 1)
	}
	return b
}

// StoreBytes appends whole bytes.
func (b *Builder) StoreBytes(p []byte) *Builder {
	if !b.reserve(len(p) * 8) {
		return b
	}
	for _, c := range p {
		for i := 7; i >= 0; i-- {
			b.writeBit(c>>uint(i)&1 == 1)
		}
	}
	return b
}

// StoreCoins appends a VarUInteger 16 amount: a 4-bit byte length followed by
// the big-endian value. Amounts of 2^120 or more are rejected.
func (b *Builder) StoreCoins(amount *big.Int) *Builder {
	if amount == nil || amount.Sign() < 0 {
		return b.fail(fmt.Errorf("%w: negative or missing amount", ErrValueRange))
	}
	v, overflow := uint256.FromBig(amount)
	if overflow || !v.Lt(maxCoins) {
		return b.fail(fmt.Errorf("%w: amount %s exceeds coin range", ErrValueRange, amount))
	}
	size := (v.BitLen() + 7) / 8
	b.StoreUint(uint64(size), 4)
	if size == 0 {
		return b
	}
	return b.StoreBigUint(v.ToBig(), size*8)
}

// StoreCoinsUint is StoreCoins for small amounts.
func (b *Builder) StoreCoinsUint(amount uint64) *Builder {
	return b.StoreCoins(new(big.Int).SetUint64(amount))
}

// StoreAddress appends addr_std, or addr_none for a nil address.
func (b *Builder) StoreAddress(a *address.Address) *Builder {
	if a == nil {
		return b.StoreUint(0, 2)
	}
	b.StoreUint(0b10, 2)
	b.StoreBit(false)
	b.StoreInt(int64(a.Workchain()), 8)
	hash := a.Hash()
	return b.StoreBytes(hash[:])
}

// StoreRef appends a child reference.
func (b *Builder) StoreRef(c *Cell) *Builder {
	if b.err != nil {
		return b
	}
	if c == nil {
		return b.fail(errors.New("cell: nil reference"))
	}
	if len(b.refs) >= MaxRefs {
		return b.fail(ErrRefsOverflow)
	}
	b.refs = append(b.refs, c)
	return b
}

// StoreMaybeRef appends a presence bit followed by the reference when c is set.
func (b *Builder) StoreMaybeRef(c *Cell) *Builder {
	if c == nil {
		return b.StoreBit(false)
	}
	b.StoreBit(true)
	return b.StoreRef(c)
}

// StoreSlice appends the bits and references of c inline.
func (b *Builder) StoreSlice(c *Cell) *Builder {
	if c == nil {
		return b.fail(errors.New("cell: nil slice"))
	}
	if !b.reserve(c.bits) {
		return b
	}
	if len(b.refs)+len(c.refs) > MaxRefs {
		return b.fail(ErrRefsOverflow)
	}
	for i := 0; i < c.bits; i++ {
		b.writeBit(c.data[i/8]>>(7-uint(i%8))&1 == 1)
	}
	b.refs = append(b.refs, c.refs...)
	return b
}

// StoreEither stores c inline behind a 0 bit when it fits after reserving
// reserveBits, otherwise as a reference behind a 1 bit.
func (b *Builder) StoreEither(c *Cell, reserveBits int) *Builder {
	if c == nil {
		return b.fail(errors.New("cell: nil either value"))
	}
	if b.BitsLeft()-1-reserveBits >= c.bits && b.RefsLeft() >= len(c.refs) {
		b.StoreBit(false)
		return b.StoreSlice(c)
	}
	b.StoreBit(true)
	return b.StoreRef(c)
}

// StoreSnakeBytes writes p into the remaining whole bytes of this builder and
// continues in a chain of child cells.
func (b *Builder) StoreSnakeBytes(p []byte) *Builder {
	if b.err != nil {
		return b
	}
	head := b.BitsLeft() / 8
	if head > len(p) {
		head = len(p)
	}
	b.StoreBytes(p[:head])
	rest := p[head:]
	if len(rest) == 0 {
		return b
	}
	tail, err := snakeChain(rest)
	if err != nil {
		return b.fail(err)
	}
	return b.StoreRef(tail)
}

func snakeChain(p []byte) (*Cell, error) {
	const chunk = MaxBits / 8
	var chunks [][]byte
	for len(p) > 0 {
		n := chunk
		if n > len(p) {
			n = len(p)
		}
		chunks = append(chunks, p[:n])
		p = p[n:]
	}
	var next *Cell
	for i := len(chunks) - 1; i >= 0; i-- {
		cb := NewBuilder().StoreBytes(chunks[i])
		if next != nil {
			cb.StoreRef(next)
		}
		c, err := cb.EndCell()
		if err != nil {
			return nil, err
		}
		next = c
	}
	return next, nil
}

// EndCell finalises the builder.
func (b *Builder) EndCell() (*Cell, error) {
	if b.err != nil {
		return nil, b.err
	}
	data := append([]byte(nil), b.data...)
	refs := append([]*Cell(nil), b.refs...)
	return finalize(data, b.bits, refs), nil
}
