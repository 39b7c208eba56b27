package cell

import (
	"errors"
	"fmt"
	"math/big"

	"walletkit/core/address"
)

// ErrUnderflow is returned when a read runs past the end of a cell.
var ErrUnderflow = errors.New("cell: read past end of cell")

// Slice reads a cell front to back. Like Builder, the first error sticks
// and later reads return zero values.
type Slice struct {
	c   *Cell
	pos int
	ref int
	err error
}

// BeginParse starts reading c.
func (c *Cell) BeginParse() *Slice { return &Slice{c: c} }

// Err returns the first read error.
func (s *Slice) Err() error { return s.err }

// BitsLeft reports the unread data bits.
func (s *Slice) BitsLeft() int { return s.c.bits - s.pos }

// RefsLeft reports the unread references.
func (s *Slice) RefsLeft() int { return len(s.c.refs) - s.ref }

func (s *Slice) readBit() bool {
	bit := s.c.data[s.pos/8]&(1<<(7-s.pos%8)) != 0
	s.pos++
	return bit
}

func (s *Slice) need(n int) bool {
	if s.err != nil {
		return false
	}
	if n < 0 || n > s.BitsLeft() {
		s.err = fmt.Errorf("%w: want %d bits, have %d", ErrUnderflow, n, s.BitsLeft())
		return false
	}
	return true
}

// LoadBit reads one bit.
func (s *Slice) LoadBit() bool {
	if !s.need(1) {
		return false
	}
	return s.readBit()
}

// LoadUint reads an unsigned integer of up to 64 bits.
func (s *Slice) LoadUint(bits int) uint64 {
	if bits > 64 {
		s.err = fmt.Errorf("cell: LoadUint supports at most 64 bits, got %d", bits)
		return 0
	}
	if !s.need(bits) {
		return 0
	}
	var v uint64
	for i := 0; i < bits; i++ {
		v <<= 1
		if s.readBit() {
			v |= 1
		}
	}
	return v
}

// LoadBigUint reads an unsigned integer of any width.
func (s *Slice) LoadBigUint(bits int) *big.Int {
	v := new(big.Int)
	if !s.need(bits) {
		return v
	}
	for i := 0; i < bits; i++ {
		v.Lsh(v, 1)
		if s.readBit() {
			v.SetBit(v, 0, 1)
		}
	}
	return v
}

// LoadCoins reads a VarUInteger 16 amount.
func (s *Slice) LoadCoins() *big.Int {
	size := int(s.LoadUint(4))
	return s.LoadBigUint(size * 8)
}

// LoadAddress reads addr_std or addr_none. addr_none yields nil.
func (s *Slice) LoadAddress() *address.Address {
	switch s.LoadUint(2) {
	case 0b00:
		return nil
	case 0b10:
	default:
		if s.err == nil {
			s.err = fmt.Errorf("cell: unsupported address tag")
		}
		return nil
	}
	if s.LoadBit() {
		s.err = fmt.Errorf("cell: anycast addresses are not supported")
		return nil
	}
	wc := int8(s.LoadUint(8))
	var hash [32]byte
	for i := range hash {
		hash[i] = byte(s.LoadUint(8))
	}
	if s.err != nil {
		return nil
	}
	return address.New(wc, hash)
}

// LoadRef reads the next reference.
func (s *Slice) LoadRef() *Cell {
	if s.err != nil {
		return nil
	}
	if s.RefsLeft() == 0 {
		s.err = fmt.Errorf("%w: no references left", ErrUnderflow)
		return nil
	}
	r := s.c.refs[s.ref]
	s.ref++
	return r
}

// LoadMaybeRef reads a presence bit and, when set, the next reference.
func (s *Slice) LoadMaybeRef() *Cell {
	if !s.LoadBit() {
		return nil
	}
	return s.LoadRef()
}
