package cell

import (
	"bytes"
	"encoding/hex"
	stderrors "errors"
	"math/big"
	"strings"
	"testing"

	"walletkit/core/address"
)

func TestEmptyCellHash(t *testing.T) {
	c, err := NewBuilder().EndCell()
	if err != nil {
		t.Fatalf("end cell: %v", err)
	}
	const want = "96a296d224f285c67bee93c30f8a309157f0daa35dc5b87e410b78630a09cfc7"
	if got := c.HashHex(); got != want {
		t.Fatalf("empty cell hash: got %s want %s", got, want)
	}
}

func TestEmptyCellBOC(t *testing.T) {
	c, _ := NewBuilder().EndCell()
	got := hex.EncodeToString(Serialize(c))
	// magic, flags(crc,size=1), off=1, cells=1, roots=1, absent=0, tot=2, root=0, d1=0, d2=0, crc
	if !strings.HasPrefix(got, "b5ee9c7241010101000200") {
		t.Fatalf("unexpected header %s", got)
	}
	if len(Serialize(c)) != 4+2+5+2+4 {
		t.Fatalf("unexpected length %d", len(Serialize(c)))
	}
}

func TestStoreUintLayout(t *testing.T) {
	c, err := NewBuilder().StoreUint(0b101, 3).StoreUint(0xff, 8).EndCell()
	if err != nil {
		t.Fatalf("end cell: %v", err)
	}
	if c.BitsLen() != 11 {
		t.Fatalf("bits %d", c.BitsLen())
	}
	if !bytes.Equal(c.Data(), []byte{0xbf, 0xe0}) {
		t.Fatalf("data %x", c.Data())
	}
	if !bytes.Equal(c.paddedData(), []byte{0xbf, 0xf0}) {
		t.Fatalf("padded %x", c.paddedData())
	}
}

func TestOverflowIsSticky(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < 16; i++ {
		b.StoreUint(0, 64)
	}
	if _, err := b.EndCell(); !stderrors.Is(err, ErrBitsOverflow) {
		t.Fatalf("expected bit overflow, got %v", err)
	}
	leaf, _ := NewBuilder().EndCell()
	rb := NewBuilder()
	for i := 0; i < 5; i++ {
		rb.StoreRef(leaf)
	}
	if _, err := rb.EndCell(); !stderrors.Is(err, ErrRefsOverflow) {
		t.Fatalf("expected ref overflow, got %v", err)
	}
	if _, err := NewBuilder().StoreUint(8, 3).EndCell(); !stderrors.Is(err, ErrValueRange) {
		t.Fatalf("expected range error, got %v", err)
	}
}

func TestStoreCoins(t *testing.T) {
	c, err := NewBuilder().StoreCoinsUint(0).EndCell()
	if err != nil || c.BitsLen() != 4 {
		t.Fatalf("zero coins: %v bits=%d", err, c.BitsLen())
	}
	c, err = NewBuilder().StoreCoinsUint(1_000_000_000).EndCell()
	if err != nil {
		t.Fatalf("coins: %v", err)
	}
	// 1e9 = 0x3b9aca00 -> length nibble 4 then 4 bytes
	if c.BitsLen() != 4+32 || !bytes.Equal(c.Data(), []byte{0x43, 0xb9, 0xac, 0xa0, 0x00}) {
		t.Fatalf("coins layout %x (%d bits)", c.Data(), c.BitsLen())
	}
	limit := new(big.Int).Lsh(big.NewInt(1), 120)
	if _, err := NewBuilder().StoreCoins(limit).EndCell(); !stderrors.Is(err, ErrValueRange) {
		t.Fatalf("expected coin overflow, got %v", err)
	}
	max := new(big.Int).Sub(limit, big.NewInt(1))
	if _, err := NewBuilder().StoreCoins(max).EndCell(); err != nil {
		t.Fatalf("max coins rejected: %v", err)
	}
}

func TestStoreAddress(t *testing.T) {
	a := address.MustParse("0:" + strings.Repeat("11", 32))
	c, err := NewBuilder().StoreAddress(a).StoreAddress(nil).EndCell()
	if err != nil {
		t.Fatalf("end cell: %v", err)
	}
	if c.BitsLen() != 267+2 {
		t.Fatalf("address bits %d", c.BitsLen())
	}
}

func TestBOCRoundTripWithSharedChildren(t *testing.T) {
	leaf, _ := NewBuilder().StoreUint(42, 32).EndCell()
	mid, _ := NewBuilder().StoreUint(1, 1).StoreRef(leaf).EndCell()
	root, err := NewBuilder().StoreBytes([]byte("root")).StoreRef(mid).StoreRef(leaf).StoreRef(mid).EndCell()
	if err != nil {
		t.Fatalf("end cell: %v", err)
	}
	if root.Depth() != 2 {
		t.Fatalf("depth %d", root.Depth())
	}
	boc := Serialize(root)
	if got := boc[6]; got != 3 {
		t.Fatalf("expected 3 unique cells, header says %d", got)
	}
	back, err := Deserialize(boc)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !bytes.Equal(back.Hash(), root.Hash()) {
		t.Fatalf("hash mismatch after round trip")
	}
	boc[len(boc)-1] ^= 0xff
	if _, err := Deserialize(boc); !stderrors.Is(err, ErrMalformedBOC) {
		t.Fatalf("expected crc failure, got %v", err)
	}
}

func TestSnakeBytesSpansCells(t *testing.T) {
	text := []byte(strings.Repeat("walletkit ", 40))
	b := NewBuilder().StoreUint(0, 32)
	c, err := b.StoreSnakeBytes(text).EndCell()
	if err != nil {
		t.Fatalf("snake: %v", err)
	}
	var collected []byte
	collected = append(collected, c.Data()[4:]...)
	for next := c.Refs(); len(next) > 0; {
		collected = append(collected, next[0].Data()...)
		next = next[0].Refs()
	}
	if !bytes.Equal(collected, text) {
		t.Fatalf("snake content mismatch")
	}
}

func TestStoreEither(t *testing.T) {
	small, _ := NewBuilder().StoreUint(7, 32).EndCell()
	c, _ := NewBuilder().StoreEither(small, 0).EndCell()
	if len(c.Refs()) != 0 || c.BitsLen() != 33 {
		t.Fatalf("small value should be inline")
	}
	wide := NewBuilder()
	for i := 0; i < 15; i++ {
		wide.StoreUint(0, 64)
	}
	large, _ := wide.EndCell()
	c, _ = NewBuilder().StoreUint(0, 64).StoreEither(large, 0).EndCell()
	if len(c.Refs()) != 1 || c.BitsLen() != 65 {
		t.Fatalf("large value should be a reference")
	}
}
