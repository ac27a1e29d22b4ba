// Package bitvec implements the bit sequences shifted through the JTAG port.
//
// Index 0 is both the least significant bit of any integer view and the first
// bit clocked onto the wire. Bits are stored packed, eight per byte, with bit i
// at position i%8 of byte i/8; bits past Len() in the last byte are always
// zero.
package bitvec

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Vector is a length-explicit bit sequence. The zero value is an empty vector.
// Like a slice, copies of a Vector share storage; Clone before mutating a copy.
type Vector struct {
	buf []byte
	n   int
}

// New returns a vector of n zero bits.
func New(n int) Vector {
	if n < 0 {
		panic(fmt.Sprintf("bitvec: negative length %d", n))
	}
	return Vector{buf: make([]byte, byteLen(n)), n: n}
}

// Ones returns a vector of n one bits.
func Ones(n int) Vector {
	v := New(n)
	for i := range v.buf {
		v.buf[i] = 0xff
	}
	v.clearTail()
	return v
}

// FromBools builds a vector whose bit i is bits[i].
func FromBools(bits ...bool) Vector {
	v := New(len(bits))
	for i, b := range bits {
		if b {
			v.buf[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return v
}

// FromUnsigned returns the width-bit representation of value, LSB at index 0.
// It fails when value does not fit in width bits.
func FromUnsigned(value uint64, width int) (Vector, error) {
	if width < 0 || width > 64 {
		return Vector{}, xserr.Callerf("bitvec: width %d out of range", width)
	}
	if width < 64 && value>>uint(width) != 0 {
		return Vector{}, xserr.Callerf("bitvec: value 0x%x does not fit in %d bits", value, width)
	}
	v := New(width)
	for i := 0; i < width; i++ {
		if value&(1<<uint(i)) != 0 {
			v.buf[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return v, nil
}

// Uint is FromUnsigned for constant operands; it panics on overflow.
func Uint(value uint64, width int) Vector {
	v, err := FromUnsigned(value, width)
	if err != nil {
		panic(err)
	}
	return v
}

// FromString parses a string of '0' and '1' characters; character i becomes
// bit i. Underscores and spaces are ignored so long constants stay readable.
func FromString(s string) (Vector, error) {
	var v Vector
	for i, c := range s {
		switch c {
		case '0':
			v.AppendBit(false)
		case '1':
			v.AppendBit(true)
		case '_', ' ':
		default:
			return Vector{}, xserr.Callerf("bitvec: invalid character %q at %d", c, i)
		}
	}
	return v, nil
}

// FromMSBFirst unpacks bytes with the most significant bit of each byte first,
// the order bits appear in a file read as a bit stream.
func FromMSBFirst(data []byte) Vector {
	v := New(len(data) * 8)
	for i, b := range data {
		v.buf[i] = bits.Reverse8(b)
	}
	return v
}

// FromWireBytes decodes length bits from a USB buffer. It is the inverse of
// WireBytes.
func FromWireBytes(data []byte, length int) (Vector, error) {
	if length < 0 || length > len(data)*8 {
		return Vector{}, xserr.Callerf("bitvec: %d bits requested from %d bytes", length, len(data))
	}
	v := New(length)
	copy(v.buf, data)
	v.clearTail()
	return v, nil
}

// WireBytes packs the vector for the USB link: byte j carries bits 8j..8j+7
// with bit 8j in the least significant position, zero padded to a whole byte.
// This is the layout the firmware shifts out LSB first, byte by byte.
func (v Vector) WireBytes() []byte {
	out := make([]byte, byteLen(v.n))
	copy(out, v.buf)
	return out
}

// Len returns the number of bits.
func (v Vector) Len() int { return v.n }

// Bit returns bit i.
func (v Vector) Bit(i int) bool {
	v.check(i)
	return v.buf[i/8]&(1<<(uint(i)%8)) != 0
}

// Set assigns bit i.
func (v *Vector) Set(i int, b bool) {
	v.check(i)
	if b {
		v.buf[i/8] |= 1 << (uint(i) % 8)
	} else {
		v.buf[i/8] &^= 1 << (uint(i) % 8)
	}
}

// AppendBit adds one bit after the current last bit.
func (v *Vector) AppendBit(b bool) {
	if v.n%8 == 0 {
		v.buf = append(v.buf, 0)
	}
	if b {
		v.buf[v.n/8] |= 1 << (uint(v.n) % 8)
	}
	v.n++
}

// Append adds o after the current last bit, so o is transmitted later.
func (v *Vector) Append(o Vector) {
	if o.n == 0 {
		return
	}
	if v.n%8 == 0 {
		v.buf = append(v.buf[:v.n/8], o.buf...)
		v.n += o.n
		return
	}
	for i := 0; i < o.n; i++ {
		v.AppendBit(o.Bit(i))
	}
}

// Concat joins vectors; the first operand holds the earliest transmitted bits.
func Concat(vs ...Vector) Vector {
	total := 0
	for _, v := range vs {
		total += v.n
	}
	out := Vector{buf: make([]byte, 0, byteLen(total))}
	for _, v := range vs {
		out.Append(v)
	}
	return out
}

// Slice returns a copy of bits [lo, hi).
func (v Vector) Slice(lo, hi int) Vector {
	if lo < 0 || hi > v.n || lo > hi {
		panic(fmt.Sprintf("bitvec: slice [%d:%d] out of range for length %d", lo, hi, v.n))
	}
	out := New(hi - lo)
	if lo%8 == 0 {
		copy(out.buf, v.buf[lo/8:])
		out.clearTail()
		return out
	}
	for i := lo; i < hi; i++ {
		if v.Bit(i) {
			out.buf[(i-lo)/8] |= 1 << (uint(i-lo) % 8)
		}
	}
	return out
}

// PopFront removes and returns the first n bits.
func (v *Vector) PopFront(n int) Vector {
	head := v.Slice(0, n)
	*v = v.Slice(n, v.n)
	return head
}

// PopLast removes and returns the last bit.
func (v *Vector) PopLast() bool {
	if v.n == 0 {
		panic("bitvec: PopLast on empty vector")
	}
	b := v.Bit(v.n - 1)
	v.Set(v.n-1, false)
	v.n--
	v.buf = v.buf[:byteLen(v.n)]
	return b
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	return Vector{buf: append([]byte(nil), v.buf...), n: v.n}
}

// Reverse returns the vector with its bit order flipped end for end.
func (v Vector) Reverse() Vector {
	out := New(v.n)
	for i := 0; i < v.n; i++ {
		if v.Bit(i) {
			j := v.n - 1 - i
			out.buf[j/8] |= 1 << (uint(j) % 8)
		}
	}
	return out
}

// Unsigned interprets the vector as an unsigned integer. Vectors longer than
// 64 bits cannot be represented and cause a panic.
func (v Vector) Unsigned() uint64 {
	if v.n > 64 {
		panic(fmt.Sprintf("bitvec: %d bits do not fit in uint64", v.n))
	}
	var out uint64
	for i, b := range v.buf {
		out |= uint64(b) << (8 * uint(i))
	}
	return out
}

// Signed interprets the vector as a two's complement integer whose sign is
// the highest-index bit.
func (v Vector) Signed() int64 {
	u := v.Unsigned()
	if v.n == 0 || v.n == 64 {
		return int64(u)
	}
	if v.Bit(v.n - 1) {
		u |= ^uint64(0) << uint(v.n)
	}
	return int64(u)
}

// Bools expands the vector to one bool per bit.
func (v Vector) Bools() []bool {
	out := make([]bool, v.n)
	for i := range out {
		out[i] = v.Bit(i)
	}
	return out
}

// Count returns the number of one bits.
func (v Vector) Count() int {
	c := 0
	for _, b := range v.buf {
		c += bits.OnesCount8(b)
	}
	return c
}

// Equal reports whether both vectors hold the same bits.
func (v Vector) Equal(o Vector) bool {
	if v.n != o.n {
		return false
	}
	for i := range v.buf {
		if v.buf[i] != o.buf[i] {
			return false
		}
	}
	return true
}

// String renders bit 0 first.
func (v Vector) String() string {
	var sb strings.Builder
	sb.Grow(v.n)
	for i := 0; i < v.n; i++ {
		if v.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (v Vector) check(i int) {
	if i < 0 || i >= v.n {
		panic(fmt.Sprintf("bitvec: index %d out of range for length %d", i, v.n))
	}
}

func (v *Vector) clearTail() {
	if r := v.n % 8; r != 0 {
		v.buf[len(v.buf)-1] &= byte(1<<uint(r)) - 1
	}
}

func byteLen(n int) int { return (n + 7) / 8 }
