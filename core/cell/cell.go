// Package cell implements the tree-of-cells data model used by envelope
// encodings: a bounded bit string plus up to four child references.
package cell

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	MaxBits = 1023
	MaxRefs = 4
)

// Cell is an immutable node. Construct one through Builder.
type Cell struct {
	data  []byte
	bits  int
	refs  []*Cell
	hash  []byte
	depth uint16
}

// BitsLen returns the number of data bits.
func (c *Cell) BitsLen() int { return c.bits }

// Refs returns the child cells.
func (c *Cell) Refs() []*Cell { return append([]*Cell(nil), c.refs...) }

// Data returns a copy of the data bytes; the last byte is zero padded.
func (c *Cell) Data() []byte { return append([]byte(nil), c.data...) }

// Depth is the maximum distance to a leaf.
func (c *Cell) Depth() uint16 { return c.depth }

// Hash returns the representation hash.
func (c *Cell) Hash() []byte { return append([]byte(nil), c.hash...) }

// HashHex is Hash hex encoded.
func (c *Cell) HashHex() string { return hex.EncodeToString(c.hash) }

func (c *Cell) String() string {
	return fmt.Sprintf("cell{bits:%d refs:%d hash:%s}", c.bits, len(c.refs), c.HashHex()[:16])
}

func (c *Cell) descriptors() (byte, byte) {
	d1 := byte(len(c.refs))
	d2 := byte(c.bits/8) + byte((c.bits+7)/8)
	return d1, d2
}

// paddedData appends the completion tag when the bit length is not byte aligned.
func (c *Cell) paddedData() []byte {
	out := append([]byte(nil), c.data...)
	if rem := c.bits % 8; rem != 0 {
		out[len(out)-1] |= 1 << (7 - rem)
	}
	return out
}

func finalize(data []byte, bits int, refs []*Cell) *Cell {
	c := &Cell{data: data, bits: bits, refs: refs}
	for _, r := range refs {
		if r.depth+1 > c.depth {
			c.depth = r.depth + 1
		}
	}
	d1, d2 := c.descriptors()
	h := sha256.New()
	h.Write([]byte{d1, d2})
	h.Write(c.paddedData())
	for _, r := range refs {
		h.Write([]byte{byte(r.depth >> 8), byte(r.depth)})
	}
	for _, r := range refs {
		h.Write(r.hash)
	}
	c.hash = h.Sum(nil)
	return c
}
