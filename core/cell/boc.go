package cell

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
)

var bocMagic = []byte{0xb5, 0xee, 0x9c, 0x72}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrMalformedBOC reports undecodable bag-of-cells input.
var ErrMalformedBOC = errors.New("cell: malformed bag of cells")

// Serialize encodes root as a single-root bag of cells with a CRC32-C
// trailer. Identical subtrees are stored once.
func Serialize(root *Cell) []byte {
	order := topoOrder(root)
	index := make(map[string]int, len(order))
	for i, c := range order {
		index[string(c.hash)] = i
	}
	sizeBytes := byteWidth(uint64(len(order)))

	var cells bytes.Buffer
	for _, c := range order {
		d1, d2 := c.descriptors()
		cells.WriteByte(d1)
		cells.WriteByte(d2)
		cells.Write(c.paddedData())
		for _, r := range c.refs {
			writeUint(&cells, uint64(index[string(r.hash)]), sizeBytes)
		}
	}
	offBytes := byteWidth(uint64(cells.Len()))

	var out bytes.Buffer
	out.Write(bocMagic)
	out.WriteByte(0x40 | byte(sizeBytes))
	out.WriteByte(byte(offBytes))
	writeUint(&out, uint64(len(order)), sizeBytes)
	writeUint(&out, 1, sizeBytes)
	writeUint(&out, 0, sizeBytes)
	writeUint(&out, uint64(cells.Len()), offBytes)
	writeUint(&out, 0, sizeBytes)
	out.Write(cells.Bytes())

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.Checksum(out.Bytes(), castagnoli))
	out.Write(crc[:])
	return out.Bytes()
}

// SerializeBase64 is Serialize with standard base64 encoding, the form node
// endpoints accept.
func SerializeBase64(root *Cell) string {
	return base64.StdEncoding.EncodeToString(Serialize(root))
}

// Deserialize decodes a single-root bag of cells.
func Deserialize(data []byte) (*Cell, error) {
	if len(data) < 6 || !bytes.Equal(data[:4], bocMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedBOC)
	}
	flags := data[4]
	hasIdx := flags&0x80 != 0
	hasCRC := flags&0x40 != 0
	sizeBytes := int(flags & 0x07)
	offBytes := int(data[5])
	if sizeBytes == 0 || sizeBytes > 4 || offBytes == 0 || offBytes > 8 {
		return nil, fmt.Errorf("%w: bad header widths", ErrMalformedBOC)
	}
	if hasCRC {
		if len(data) < 10 {
			return nil, fmt.Errorf("%w: truncated", ErrMalformedBOC)
		}
		body := data[:len(data)-4]
		if crc32.Checksum(body, castagnoli) != binary.LittleEndian.Uint32(data[len(data)-4:]) {
			return nil, fmt.Errorf("%w: crc mismatch", ErrMalformedBOC)
		}
		data = body
	}
	r := &reader{buf: data, pos: 6}
	count := int(r.readUint(sizeBytes))
	roots := int(r.readUint(sizeBytes))
	r.readUint(sizeBytes) // absent
	r.readUint(offBytes)  // total cell bytes
	if roots != 1 {
		return nil, fmt.Errorf("%w: expected one root, got %d", ErrMalformedBOC, roots)
	}
	rootIdx := int(r.readUint(sizeBytes))
	if hasIdx {
		r.skip(count * offBytes)
	}
	if r.err != nil || count <= 0 || rootIdx >= count {
		return nil, fmt.Errorf("%w: bad counts", ErrMalformedBOC)
	}

	type raw struct {
		data []byte
		bits int
		refs []int
	}
	raws := make([]raw, count)
	for i := 0; i < count; i++ {
		d1 := r.readByte()
		d2 := r.readByte()
		if d1&0x08 != 0 || d1>>5 != 0 {
			return nil, fmt.Errorf("%w: exotic or leveled cells unsupported", ErrMalformedBOC)
		}
		nrefs := int(d1 & 0x07)
		if nrefs > MaxRefs {
			return nil, fmt.Errorf("%w: too many refs", ErrMalformedBOC)
		}
		n := (int(d2) + 1) / 2
		payload := append([]byte(nil), r.take(n)...)
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBOC, r.err)
		}
		nbits := n * 8
		if d2%2 == 1 && n > 0 {
			last := payload[n-1]
			if last == 0 {
				return nil, fmt.Errorf("%w: missing completion tag", ErrMalformedBOC)
			}
			tz := bits.TrailingZeros8(last)
			nbits = (n-1)*8 + 7 - tz
			payload[n-1] &^= 1 << uint(tz)
		}
		refs := make([]int, nrefs)
		for j := range refs {
			refs[j] = int(r.readUint(sizeBytes))
			if refs[j] <= i || refs[j] >= count {
				return nil, fmt.Errorf("%w: reference order", ErrMalformedBOC)
			}
		}
		raws[i] = raw{data: payload, bits: nbits, refs: refs}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBOC, r.err)
	}

	built := make([]*Cell, count)
	for i := count - 1; i >= 0; i-- {
		refs := make([]*Cell, len(raws[i].refs))
		for j, idx := range raws[i].refs {
			refs[j] = built[idx]
		}
		built[i] = finalize(raws[i].data, raws[i].bits, refs)
	}
	return built[rootIdx], nil
}

func topoOrder(root *Cell) []*Cell {
	seen := make(map[string]bool)
	var post []*Cell
	var visit func(c *Cell)
	visit = func(c *Cell) {
		key := string(c.hash)
		if seen[key] {
			return
		}
		seen[key] = true
		for _, r := range c.refs {
			visit(r)
		}
		post = append(post, c)
	}
	visit(root)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func byteWidth(v uint64) int {
	n := (bits.Len64(v) + 7) / 8
	if n == 0 {
		n = 1
	}
	return n
}

func writeUint(buf *bytes.Buffer, v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = errors.New("unexpected end of input")
		return nil
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) skip(n int) { r.take(n) }

func (r *reader) readByte() byte {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) readUint(width int) uint64 {
	p := r.take(width)
	var v uint64
	for _, c := range p {
		v = v<<8 | uint64(c)
	}
	return v
}
